package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elly-james/camision/internal/config"
	"github.com/elly-james/camision/pkg/models"
)

func newTestGateway(t *testing.T, handler http.Handler) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewHTTPGateway(config.PaymentsConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "https://app.example.com/client-dashboard",
		IPNID:          "ipn-1",
		Timeout:        5 * time.Second,
	})
}

func tokenHandler(next http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["consumer_key"] != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("/", next)
	return mux
}

func TestSubmitOrder(t *testing.T) {
	var gotAuth string
	g := newTestGateway(t, tokenHandler(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/Transactions/SubmitOrderRequest", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var order OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		assert.Equal(t, "job-42-upfront", order.MerchantReference)
		assert.Equal(t, "https://app.example.com/client-dashboard", order.CallbackURL)
		assert.Equal(t, "ipn-1", order.NotificationID)

		json.NewEncoder(w).Encode(map[string]string{
			"order_tracking_id": "trk-1",
			"redirect_url":      "https://pay.example.com/checkout/trk-1",
		})
	}))

	resp, err := g.SubmitOrder(context.Background(), OrderRequest{
		MerchantReference: "job-42-upfront",
		Amount:            15,
		Description:       "Upfront payment",
	})
	require.NoError(t, err)
	assert.Equal(t, "trk-1", resp.TrackingID)
	assert.Equal(t, "https://pay.example.com/checkout/trk-1", resp.RedirectURL)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestSubmitOrder_GatewayError(t *testing.T) {
	g := newTestGateway(t, tokenHandler(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid currency"},
		})
	}))

	_, err := g.SubmitOrder(context.Background(), OrderRequest{MerchantReference: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.Contains(t, err.Error(), "invalid currency")
}

func TestTransactionStatus(t *testing.T) {
	tests := []struct {
		gateway string
		want    string
	}{
		{"Completed", models.PaymentStatusCompleted},
		{"COMPLETED", models.PaymentStatusCompleted},
		{"Failed", models.PaymentStatusFailed},
		{"Pending", models.PaymentStatusPending},
		{"Reversed", models.PaymentStatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			g := newTestGateway(t, tokenHandler(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/api/Transactions/GetTransactionStatus", r.URL.Path)
				assert.Equal(t, "trk-1", r.URL.Query().Get("orderTrackingId"))
				json.NewEncoder(w).Encode(map[string]string{
					"payment_status_description": tt.gateway,
				})
			}))

			status, err := g.TransactionStatus(context.Background(), "trk-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestToken_IsCached(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Auth/RequestToken", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("/api/Transactions/GetTransactionStatus", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"payment_status_description": "Pending"})
	})
	g := newTestGateway(t, mux)

	for i := 0; i < 3; i++ {
		_, err := g.TransactionStatus(context.Background(), "trk-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestTransactionStatus_Unreachable(t *testing.T) {
	g := NewHTTPGateway(config.PaymentsConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: time.Second,
	})

	_, err := g.TransactionStatus(context.Background(), "trk-1")
	assert.ErrorIs(t, err, ErrGatewayUnreachable)
}
