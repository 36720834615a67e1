package store

import (
	"context"
	"errors"

	"github.com/elly-james/camision/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetAdmin(ctx context.Context) (*models.User, error)

	CreateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	GetJobByTrackingID(ctx context.Context, trackingID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status string) error
	UpdateJobPayment(ctx context.Context, id int64, paymentStatus string, opts ...PaymentUpdateOption) error
	AppendJobFiles(ctx context.Context, id int64, completed bool, names []string) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error

	ListBlogs(ctx context.Context) ([]*models.Blog, error)
	GetBlog(ctx context.Context, id int64) (*models.Blog, error)
}

// JobFilter scopes job listings. A nil UserID means all jobs (admin view).
type JobFilter struct {
	UserID *int64
}

// MessageFilter scopes message listings. JobID selects a job thread;
// ClientID selects the general thread of one client.
type MessageFilter struct {
	JobID    *int64
	ClientID *int64
	General  bool
}

// PaymentUpdate collects the optional fields of an UpdateJobPayment call.
type PaymentUpdate struct {
	OrderTrackingID      *string
	CompletionTrackingID *string
	JobStatus            *string
}

type PaymentUpdateOption func(*PaymentUpdate)

// ResolvePaymentUpdate folds options into one PaymentUpdate. Store
// implementations use it to apply the variadic options uniformly.
func ResolvePaymentUpdate(opts []PaymentUpdateOption) PaymentUpdate {
	var p PaymentUpdate
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithOrderTrackingID(id string) PaymentUpdateOption {
	return func(p *PaymentUpdate) {
		p.OrderTrackingID = &id
	}
}

func WithCompletionTrackingID(id string) PaymentUpdateOption {
	return func(p *PaymentUpdate) {
		p.CompletionTrackingID = &id
	}
}

func WithJobStatus(status string) PaymentUpdateOption {
	return func(p *PaymentUpdate) {
		p.JobStatus = &status
	}
}
