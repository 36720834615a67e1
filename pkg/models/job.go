package models

import "time"

// Job status lifecycle. A job is created in Pending Payment and moves to
// Pending once the upfront payment clears; the admin drives it from there.
const (
	JobStatusPendingPayment = "Pending Payment"
	JobStatusPending        = "Pending"
	JobStatusInProgress     = "In Progress"
	JobStatusCompleted      = "Completed"
)

// Payment status values reported by the gateway and stored on the job.
// Pending -> Partial (upfront paid) -> Completed (remaining paid).
const (
	PaymentStatusPending   = "Pending"
	PaymentStatusPartial   = "Partial"
	PaymentStatusCompleted = "Completed"
	PaymentStatusFailed    = "Failed"
	PaymentStatusInvalid   = "Invalid"
)

// Job is a unit of work requested by a client, tracked through its status
// lifecycle to completion. Detail fetches embed the job's message thread;
// list fetches may omit it.
type Job struct {
	ID                   int64     `db:"id"                     json:"id"`
	UserID               int64     `db:"user_id"                json:"user_id"`
	ClientEmail          string    `db:"client_email"           json:"client_email"`
	Subject              string    `db:"subject"                json:"subject"`
	Title                string    `db:"title"                  json:"title"`
	Pages                int       `db:"pages"                  json:"pages"`
	Deadline             time.Time `db:"deadline"               json:"deadline"`
	Instructions         string    `db:"instructions"           json:"instructions"`
	CitedResources       int       `db:"cited_resources"        json:"cited_resources"`
	FormattingStyle      string    `db:"formatting_style"       json:"formatting_style"`
	WriterLevel          string    `db:"writer_level"           json:"writer_level"`
	Spacing              string    `db:"spacing"                json:"spacing"`
	TotalAmount          float64   `db:"total_amount"           json:"total_amount"`
	Status               string    `db:"status"                 json:"status"`
	PaymentStatus        string    `db:"payment_status"         json:"payment_status"`
	OrderTrackingID      *string   `db:"order_tracking_id"      json:"order_tracking_id,omitempty"`
	CompletionTrackingID *string   `db:"completion_tracking_id" json:"completion_tracking_id,omitempty"`
	Files                []string  `db:"files"                  json:"files"`
	CompletedFiles       []string  `db:"completed_files"        json:"completed_files"`
	Messages             []Message `db:"-"                      json:"messages,omitempty"`
	CreatedAt            time.Time `db:"created_at"             json:"created_at"`
}
