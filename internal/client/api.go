package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/elly-james/camision/pkg/apperrors"
	"github.com/elly-james/camision/pkg/models"
)

// AuthResult is the server's answer to login and register.
type AuthResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	Role         string       `json:"role"`
	User         *models.User `json:"user"`
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/login",
		contentType: "application/json",
		bodyFn:      jsonBody(map[string]string{"email": email, "password": password}),
		noAuth:      true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.SetTokens(out.AccessToken, out.RefreshToken); err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, "could not store tokens", err)
	}
	return &out, nil
}

// Register creates an account and stores the returned token pair.
func (c *Client) Register(ctx context.Context, email, name, password string) (*AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/register",
		contentType: "application/json",
		bodyFn:      jsonBody(map[string]string{"email": email, "name": name, "password": password}),
		noAuth:      true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.SetTokens(out.AccessToken, out.RefreshToken); err != nil {
		return nil, apperrors.Wrap(apperrors.KindAuth, "could not store tokens", err)
	}
	return &out, nil
}

// Logout tells the server and drops stored credentials.
func (c *Client) Logout(ctx context.Context) error {
	_ = c.do(ctx, request{method: http.MethodPost, path: "/auth/logout"}, nil)
	return c.tokens.ClearTokens()
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/me"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns the caller's jobs (all jobs for the admin).
func (c *Client) ListJobs(ctx context.Context) ([]*models.Job, error) {
	var out []*models.Job
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/jobs"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetJob returns one job with its message thread embedded.
func (c *Client) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var out models.Job
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/jobs/%d", id),
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JobSubmission is the order form.
type JobSubmission struct {
	Subject         string
	Title           string
	Pages           int
	Deadline        string // RFC3339
	Instructions    string
	CitedResources  int
	FormattingStyle string
	WriterLevel     string
	Spacing         string
	PhoneNumber     string
	FilePaths       []string
}

// CreatedJob is the server's answer to a job submission.
type CreatedJob struct {
	Job             *models.Job `json:"job"`
	RedirectURL     string      `json:"redirect_url"`
	OrderTrackingID string      `json:"order_tracking_id"`
}

// CreateJob submits the order form and returns the job plus the checkout
// redirect.
func (c *Client) CreateJob(ctx context.Context, sub JobSubmission) (*CreatedJob, error) {
	fields := map[string]string{
		"subject":         sub.Subject,
		"title":           sub.Title,
		"pages":           fmt.Sprint(sub.Pages),
		"deadline":        sub.Deadline,
		"instructions":    sub.Instructions,
		"citedResources":  fmt.Sprint(sub.CitedResources),
		"formattingStyle": sub.FormattingStyle,
		"writerLevel":     sub.WriterLevel,
		"spacing":         sub.Spacing,
		"phone_number":    sub.PhoneNumber,
	}

	var out CreatedJob
	err := c.do(ctx, multipartRequest(http.MethodPost, "/api/jobs", fields, sub.FilePaths), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateJobStatus moves a job along its lifecycle. Admin only.
func (c *Client) UpdateJobStatus(ctx context.Context, id int64, status string) (*models.Job, error) {
	var out models.Job
	err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        fmt.Sprintf("/api/jobs/%d", id),
		contentType: "application/json",
		bodyFn:      jsonBody(map[string]string{"status": status}),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadJobFiles attaches files to a job and returns the updated job.
func (c *Client) UploadJobFiles(ctx context.Context, id int64, paths []string) (*models.Job, error) {
	var out models.Job
	err := c.do(ctx, multipartRequest(http.MethodPost,
		fmt.Sprintf("/api/jobs/%d/files", id), nil, paths), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobMessages returns a job's thread.
func (c *Client) ListJobMessages(ctx context.Context, jobID int64) ([]*models.Message, error) {
	var out []*models.Message
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/api/jobs/%d/messages", jobID),
	}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGeneralMessages returns the job-independent thread. clientID is only
// honored for the admin; zero means the caller's own thread.
func (c *Client) ListGeneralMessages(ctx context.Context, clientID int64) ([]*models.Message, error) {
	req := request{method: http.MethodGet, path: "/api/messages"}
	if clientID != 0 {
		req.query = url.Values{"client_id": {fmt.Sprint(clientID)}}.Encode()
	}
	var out []*models.Message
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts to a job thread (jobID > 0) or the general thread.
// recipientID is required only when the admin writes a general message.
func (c *Client) SendMessage(ctx context.Context, jobID, recipientID int64, content string, filePaths []string) (*models.Message, error) {
	fields := map[string]string{"content": content}
	path := "/api/messages"
	if jobID > 0 {
		path = fmt.Sprintf("/api/jobs/%d/messages", jobID)
	} else if recipientID > 0 {
		fields["recipient_id"] = fmt.Sprint(recipientID)
	}

	var out models.Message
	err := c.do(ctx, multipartRequest(http.MethodPost, path, fields, filePaths), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage replaces a message's content. Sender only.
func (c *Client) EditMessage(ctx context.Context, id int64, content string) (*models.Message, error) {
	var out models.Message
	err := c.do(ctx, request{
		method:      http.MethodPut,
		path:        fmt.Sprintf("/api/messages/%d", id),
		contentType: "application/json",
		bodyFn:      jsonBody(map[string]string{"content": content}),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMessage removes a message. Sender only.
func (c *Client) DeleteMessage(ctx context.Context, id int64) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/api/messages/%d", id),
	}, nil)
}

// Checkout is a payment initiation answer.
type Checkout struct {
	RedirectURL          string `json:"redirect_url"`
	OrderTrackingID      string `json:"order_tracking_id"`
	CompletionTrackingID string `json:"completion_tracking_id"`
}

// InitiateUpfront re-initiates the upfront checkout for a job.
func (c *Client) InitiateUpfront(ctx context.Context, jobID int64) (*Checkout, error) {
	var out Checkout
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/payments/jobs/%d/upfront", jobID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// InitiateCompletion starts the remaining-balance checkout.
func (c *Client) InitiateCompletion(ctx context.Context, jobID int64) (*Checkout, error) {
	var out Checkout
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/api/payments/jobs/%d/completion", jobID),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentStatus polls one checkout's status.
func (c *Client) PaymentStatus(ctx context.Context, trackingID string) (string, error) {
	var out struct {
		PaymentStatus string `json:"payment_status"`
	}
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/payments/status/" + url.PathEscape(trackingID),
	}, &out)
	if err != nil {
		return "", err
	}
	return out.PaymentStatus, nil
}

// ListBlogs returns published blog posts.
func (c *Client) ListBlogs(ctx context.Context) ([]*models.Blog, error) {
	var out []*models.Blog
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/blogs", noAuth: true}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadFile streams a stored upload into w.
func (c *Client) DownloadFile(ctx context.Context, name string, w io.Writer) error {
	resp, err := c.exchange(ctx, request{
		method: http.MethodGet,
		path:   "/Uploads/" + url.PathEscape(name),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "download interrupted", err)
	}
	return nil
}

// multipartRequest builds a request whose body is rebuilt per attempt, so
// retries resend the full form. The boundary is pinned up front so the
// Content-Type header stays valid across rebuilds.
func multipartRequest(method, path string, fields map[string]string, filePaths []string) request {
	boundary := fmt.Sprintf("camision%d", time.Now().UnixNano())

	bodyFn := func() (io.Reader, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := w.SetBoundary(boundary); err != nil {
			return nil, err
		}
		for k, v := range fields {
			if v == "" {
				continue
			}
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		for _, p := range filePaths {
			f, err := os.Open(p)
			if err != nil {
				return nil, fmt.Errorf("open attachment %s: %w", p, err)
			}
			fw, err := w.CreateFormFile("files", filepath.Base(p))
			if err == nil {
				_, err = io.Copy(fw, f)
			}
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("attach %s: %w", p, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return &buf, nil
	}

	return request{
		method:      method,
		path:        path,
		contentType: "multipart/form-data; boundary=" + boundary,
		bodyFn:      bodyFn,
	}
}
