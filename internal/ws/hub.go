// Package ws is the push side of the notification channel: two topics, jobs
// and messages, broadcast to every connected session of the interested party.
// Admin sessions see every event; client sessions only see events about their
// own jobs and threads.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/elly-james/camision/pkg/models"
)

// Hub tracks connected sessions per topic and fans events out to them.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*session]bool
}

func NewHub() *Hub {
	return &Hub{topics: map[string]map[*session]bool{
		models.TopicJobs:     {},
		models.TopicMessages: {},
	}}
}

func (h *Hub) join(topic string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*session]bool)
	}
	h.topics[topic][s] = true
}

// leave removes the session and closes its send channel under the hub lock,
// so Publish can never send on a closed channel.
func (h *Hub) leave(topic string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic][s] {
		delete(h.topics[topic], s)
		close(s.send)
	}
}

// Publish sends an event to every session on the topic that is allowed to see
// it: all admin sessions, plus sessions of the subject user. The actor's own
// sessions are included deliberately so a mutation is confirmed back to its
// originator.
func (h *Hub) Publish(topic string, env models.Envelope, subjectUserID int64) {
	b, err := json.Marshal(env)
	if err != nil {
		slog.Error("marshal push event", "event", env.Event, "error", err)
		return
	}

	// Sends stay under the read lock: leave needs the write lock to close a
	// send channel, so no channel here can be closed mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[topic] {
		if s.role != models.RoleAdmin && s.userID != subjectUserID {
			continue
		}
		select {
		case s.send <- b:
		default:
			// Slow consumer; drop the connection rather than block the hub.
			go s.close()
		}
	}
}

// PublishJob emits a job event on the jobs topic.
func (h *Hub) PublishJob(event string, job *models.Job) {
	h.Publish(models.TopicJobs, models.NewEnvelope(event, models.JobEvent{Job: *job}), job.UserID)
}

// PublishPaymentStatus emits the deliberately partial payment event.
func (h *Hub) PublishPaymentStatus(job *models.Job) {
	h.Publish(models.TopicJobs, models.NewEnvelope(models.EventPaymentStatusUpdated,
		models.PaymentStatusEvent{JobID: job.ID, UserID: job.UserID, PaymentStatus: job.PaymentStatus}),
		job.UserID)
}

// PublishMessage emits a message event on the messages topic.
func (h *Hub) PublishMessage(event string, msg *models.Message) {
	h.Publish(models.TopicMessages, models.NewEnvelope(event, models.MessageEvent{Message: *msg}), msg.ClientID)
}

// PublishMessageDeleted emits the tombstone for a removed message.
func (h *Hub) PublishMessageDeleted(messageID, clientID int64) {
	h.Publish(models.TopicMessages, models.NewEnvelope(models.EventMessageDeleted,
		models.MessageDeletedEvent{MessageID: messageID, ClientID: clientID}), clientID)
}
