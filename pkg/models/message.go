package models

import "time"

// Message belongs to exactly one conversation thread: a job's thread when
// JobID is set, otherwise the general client-admin thread.
type Message struct {
	ID          int64     `db:"id"           json:"id"`
	JobID       *int64    `db:"job_id"       json:"job_id,omitempty"`
	SenderID    int64     `db:"sender_id"    json:"sender_id"`
	SenderRole  string    `db:"sender_role"  json:"sender_role"`
	RecipientID *int64    `db:"recipient_id" json:"recipient_id,omitempty"`
	ClientID    int64     `db:"client_id"    json:"client_id"`
	Content     string    `db:"content"      json:"content"`
	Files       []string  `db:"files"        json:"files"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}
