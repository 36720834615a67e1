// Package payments talks to the hosted-checkout gateway. The rest of the
// system only ever needs two calls: submit an order (getting back a redirect
// URL plus a tracking id) and poll a tracking id for its status.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elly-james/camision/internal/config"
	"github.com/elly-james/camision/pkg/models"
)

// Sentinel errors for gateway failures.
var (
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrGatewayTimeout     = errors.New("payment gateway timeout")
)

// Gateway is the interface the payment handlers depend on.
type Gateway interface {
	SubmitOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error)
	TransactionStatus(ctx context.Context, trackingID string) (string, error)
}

// OrderRequest describes one checkout to initiate.
type OrderRequest struct {
	MerchantReference string  `json:"id"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	Description       string  `json:"description"`
	CallbackURL       string  `json:"callback_url"`
	NotificationID    string  `json:"notification_id"`
	Email             string  `json:"billing_address_email,omitempty"`
	PhoneNumber       string  `json:"billing_address_phone,omitempty"`
}

// OrderResponse correlates the redirect checkout with later status polls.
type OrderResponse struct {
	TrackingID  string `json:"order_tracking_id"`
	RedirectURL string `json:"redirect_url"`
}

// HTTPGateway implements Gateway against the pesapal v3 HTTP API.
type HTTPGateway struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	ipnID          string
	callbackURL    string
	client         *http.Client

	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time
}

// NewHTTPGateway creates a gateway client from config.
func NewHTTPGateway(cfg config.PaymentsConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		ipnID:          cfg.IPNID,
		callbackURL:    cfg.CallbackURL,
		client:         &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *HTTPGateway) SubmitOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	if order.CallbackURL == "" {
		order.CallbackURL = g.callbackURL
	}
	if order.NotificationID == "" {
		order.NotificationID = g.ipnID
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}

	var resp struct {
		OrderTrackingID string `json:"order_tracking_id"`
		RedirectURL     string `json:"redirect_url"`
		Error           *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := g.post(ctx, "/api/Transactions/SubmitOrderRequest", order, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.Error.Message)
	}
	if resp.OrderTrackingID == "" || resp.RedirectURL == "" {
		return nil, fmt.Errorf("%w: incomplete order response", ErrGatewayRejected)
	}
	return &OrderResponse{TrackingID: resp.OrderTrackingID, RedirectURL: resp.RedirectURL}, nil
}

// TransactionStatus returns one of the models.PaymentStatus* values. Anything
// the gateway reports outside that set maps to Invalid.
func (g *HTTPGateway) TransactionStatus(ctx context.Context, trackingID string) (string, error) {
	token, err := g.token(ctx)
	if err != nil {
		return "", err
	}

	u := fmt.Sprintf("%s/api/Transactions/GetTransactionStatus?orderTrackingId=%s",
		g.baseURL, url.QueryEscape(trackingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	httpResp, err := g.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrGatewayRejected, httpResp.StatusCode)
	}

	var resp struct {
		PaymentStatusDescription string `json:"payment_status_description"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding status response: %w", err)
	}
	return normalizeStatus(resp.PaymentStatusDescription), nil
}

// token returns a cached bearer token, fetching a fresh one when expired.
func (g *HTTPGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.bearerToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.bearerToken, nil
	}

	body := map[string]string{
		"consumer_key":    g.consumerKey,
		"consumer_secret": g.consumerSecret,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := g.postLocked(ctx, "/api/Auth/RequestToken", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: empty auth token", ErrGatewayRejected)
	}

	g.bearerToken = resp.Token
	g.tokenExpiry = time.Now().Add(4 * time.Minute)
	return g.bearerToken, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}
	return g.doPost(ctx, path, token, body, out)
}

// postLocked is post without the token dance, for the token request itself.
func (g *HTTPGateway) postLocked(ctx context.Context, path string, body, out any) error {
	return g.doPost(ctx, path, "", body, out)
}

func (g *HTTPGateway) doPost(ctx context.Context, path, token string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}

// normalizeStatus folds gateway status text into the payment status enum.
func normalizeStatus(s string) string {
	switch s {
	case models.PaymentStatusCompleted, "COMPLETED":
		return models.PaymentStatusCompleted
	case models.PaymentStatusFailed, "FAILED":
		return models.PaymentStatusFailed
	case models.PaymentStatusPending, "PENDING":
		return models.PaymentStatusPending
	default:
		return models.PaymentStatusInvalid
	}
}

// Compile-time check that HTTPGateway implements Gateway.
var _ Gateway = (*HTTPGateway)(nil)
