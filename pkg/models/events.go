package models

import "encoding/json"

// Push topics. Each authenticated session holds one subscription per topic.
const (
	TopicJobs     = "jobs"
	TopicMessages = "messages"
)

// Event names carried on the push channel. new_general_message carries every
// created message, job-scoped ones included; consumers route on the
// payload's job_id.
const (
	EventNewJob               = "new_job"
	EventJobUpdated           = "job_updated"
	EventPaymentStatusUpdated = "payment_status_updated"
	EventNewGeneralMessage    = "new_general_message"
	EventMessageUpdated       = "message_updated"
	EventMessageDeleted       = "message_deleted"
)

// Envelope is the wire format for pushed events: an event name plus a
// payload whose shape depends on the name. Payload completeness is not
// guaranteed; consumers re-fetch detail for any entity they have open.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JobEvent is the decoded payload for new_job and job_updated. The job is
// a summary row; embedded messages and file lists may be stale or absent.
type JobEvent struct {
	Job Job `json:"job"`
}

// PaymentStatusEvent is deliberately partial: the gateway callback knows
// only the job id and the new status.
type PaymentStatusEvent struct {
	JobID         int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	PaymentStatus string `json:"payment_status"`
}

// MessageEvent is the decoded payload for new_general_message and
// message_updated.
type MessageEvent struct {
	Message Message `json:"message"`
}

// MessageDeletedEvent carries the id of the removed message plus the client
// party of its thread, for delivery scoping.
type MessageDeletedEvent struct {
	MessageID int64 `json:"message_id"`
	ClientID  int64 `json:"client_id"`
}

// NewEnvelope marshals a payload into an Envelope. Marshal errors cannot
// occur for the payload types above, so they are swallowed.
func NewEnvelope(event string, payload any) Envelope {
	b, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: b}
}
