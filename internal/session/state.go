// Package session holds the client core's in-memory view of the account:
// the job list, the selected job's thread, and the general message thread,
// kept consistent with the server through REST fetches and push events.
package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elly-james/camision/internal/client"
	"github.com/elly-james/camision/internal/localstate"
	"github.com/elly-james/camision/pkg/apperrors"
	"github.com/elly-james/camision/pkg/models"
)

// API is the slice of the REST client the session uses.
type API interface {
	Me(ctx context.Context) (*models.User, error)
	ListJobs(ctx context.Context) ([]*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListGeneralMessages(ctx context.Context, clientID int64) ([]*models.Message, error)
	CreateJob(ctx context.Context, sub client.JobSubmission) (*client.CreatedJob, error)
	UpdateJobStatus(ctx context.Context, id int64, status string) (*models.Job, error)
	UploadJobFiles(ctx context.Context, id int64, paths []string) (*models.Job, error)
	SendMessage(ctx context.Context, jobID, recipientID int64, content string, filePaths []string) (*models.Message, error)
	EditMessage(ctx context.Context, id int64, content string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	InitiateCompletion(ctx context.Context, jobID int64) (*client.Checkout, error)
	PaymentStatus(ctx context.Context, trackingID string) (string, error)
	DownloadFile(ctx context.Context, name string, w io.Writer) error
}

// Listener is notified after any state change, so a view layer can re-render.
type Listener func()

// Initial loads are retried this many times with linearly growing delays.
const maxLoadRetries = 3

// Session is the synchronized account state. Safe for concurrent use.
type Session struct {
	api   API
	local *localstate.Store

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	user       *models.User
	jobs       map[int64]*models.Job
	selectedID int64
	general    []*models.Message
	listeners  []Listener
}

// New creates an empty session over the given API and local state store.
func New(api API, local *localstate.Store) *Session {
	return &Session{
		api:   api,
		local: local,
		jobs:  map[int64]*models.Job{},
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Subscribe registers a change listener.
func (s *Session) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) notify() {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// LoadInitial fetches the account, the job list, and the general thread in
// parallel. Transient failures are retried up to three times per fetch,
// waiting 1s, 2s, 3s; auth and validation failures abort immediately.
func (s *Session) LoadInitial(ctx context.Context) error {
	var user *models.User
	var jobs []*models.Job
	var general []*models.Message
	var userErr, jobsErr, generalErr error

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		userErr = s.withRetries(ctx, func() error {
			var err error
			user, err = s.api.Me(ctx)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		jobsErr = s.withRetries(ctx, func() error {
			var err error
			jobs, err = s.api.ListJobs(ctx)
			return err
		})
	}()
	go func() {
		defer wg.Done()
		generalErr = s.withRetries(ctx, func() error {
			var err error
			general, err = s.api.ListGeneralMessages(ctx, 0)
			return err
		})
	}()
	wg.Wait()

	// An auth failure trumps a transient one: the session must reset.
	for _, err := range []error{userErr, jobsErr, generalErr} {
		if apperrors.IsAuth(err) {
			return err
		}
	}
	for _, err := range []error{userErr, jobsErr, generalErr} {
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.user = user
	s.jobs = map[int64]*models.Job{}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	s.general = s.filterHidden(general)
	s.mu.Unlock()

	s.notify()
	return nil
}

// CurrentUser returns the authenticated account loaded by LoadInitial, or
// nil before the first successful load.
func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxLoadRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) {
			return err
		}
		if attempt == maxLoadRetries {
			break
		}
		// 1s, 2s, 3s
		if serr := s.sleep(ctx, time.Duration(attempt)*time.Second); serr != nil {
			return apperrors.Wrap(apperrors.KindTransient, "load interrupted", serr)
		}
	}
	return err
}

// Jobs returns the job list, newest first.
func (s *Session) Jobs() []*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out
}

// Job returns one job from the local view, or nil.
func (s *Session) Job(id int64) *models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// GeneralMessages returns the job-independent thread with hidden messages
// filtered out.
func (s *Session) GeneralMessages() []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Message, len(s.general))
	copy(out, s.general)
	return out
}

// SelectedJob returns the currently selected job, or nil.
func (s *Session) SelectedJob() *models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[s.selectedID]
}

// SelectJob marks a job as selected and re-fetches its full detail so the
// embedded thread is current.
func (s *Session) SelectJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := s.api.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Messages = s.filterHiddenValues(job.Messages)

	s.mu.Lock()
	s.selectedID = id
	s.jobs[id] = job
	s.mu.Unlock()

	s.notify()
	return job, nil
}

// ApplyEvent feeds one push envelope into the local state. Unknown events are
// logged and dropped; a malformed payload never corrupts the state.
func (s *Session) ApplyEvent(ctx context.Context, env models.Envelope) {
	switch env.Event {
	case models.EventNewJob, models.EventJobUpdated:
		var payload models.JobEvent
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			slog.Warn("malformed job event", "event", env.Event, "error", err)
			return
		}
		s.applyJob(ctx, &payload.Job)

	case models.EventPaymentStatusUpdated:
		var payload models.PaymentStatusEvent
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			slog.Warn("malformed payment event", "error", err)
			return
		}
		s.applyPaymentStatus(payload)

	case models.EventNewGeneralMessage, models.EventMessageUpdated:
		var payload models.MessageEvent
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			slog.Warn("malformed message event", "event", env.Event, "error", err)
			return
		}
		s.applyMessage(&payload.Message)

	case models.EventMessageDeleted:
		var payload models.MessageDeletedEvent
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			slog.Warn("malformed delete event", "error", err)
			return
		}
		s.applyMessageDeleted(payload.MessageID)

	default:
		slog.Debug("unknown push event", "event", env.Event)
	}
}

// applyJob merges a job event. Insert and update are the same operation, so
// a duplicate new_job or an out-of-order job_updated both converge on the
// event's payload. When the selected job changed, its detail is re-fetched
// so the embedded thread stays complete.
func (s *Session) applyJob(ctx context.Context, job *models.Job) {
	s.mu.Lock()
	if existing, ok := s.jobs[job.ID]; ok && len(job.Messages) == 0 {
		// Events carry jobs without threads; keep what we have.
		job.Messages = existing.Messages
	}
	s.jobs[job.ID] = job
	selected := s.selectedID == job.ID
	s.mu.Unlock()

	if selected {
		if fresh, err := s.api.GetJob(ctx, job.ID); err == nil {
			fresh.Messages = s.filterHiddenValues(fresh.Messages)
			s.mu.Lock()
			s.jobs[job.ID] = fresh
			s.mu.Unlock()
		}
	}
	s.notify()
}

// applyPaymentStatus merges the deliberately partial payment event into the
// already-known job. An event for an unknown job is dropped; the next full
// fetch will bring the job in whole.
func (s *Session) applyPaymentStatus(payload models.PaymentStatusEvent) {
	s.mu.Lock()
	job, ok := s.jobs[payload.JobID]
	if ok {
		job.PaymentStatus = payload.PaymentStatus
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
}

// applyMessage inserts or replaces a message in whichever thread it belongs
// to. Hidden messages stay hidden even when the server re-sends them.
func (s *Session) applyMessage(msg *models.Message) {
	if s.local.IsHidden(msg.ID) {
		return
	}

	s.mu.Lock()
	if msg.JobID == nil {
		s.general = upsertMessage(s.general, msg)
	} else if job, ok := s.jobs[*msg.JobID]; ok {
		job.Messages = upsertMessageValues(job.Messages, *msg)
	}
	s.mu.Unlock()
	s.notify()
}

// applyMessageDeleted hides the message locally and removes it from every
// thread. The id goes on the hidden list so a racing re-fetch cannot
// resurrect it.
func (s *Session) applyMessageDeleted(messageID int64) {
	if err := s.local.HideMessage(messageID); err != nil {
		slog.Warn("persist hidden message", "message_id", messageID, "error", err)
	}

	s.mu.Lock()
	s.general = removeMessage(s.general, messageID)
	for _, job := range s.jobs {
		job.Messages = removeMessageValues(job.Messages, messageID)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) filterHidden(msgs []*models.Message) []*models.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if !s.local.IsHidden(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

func (s *Session) filterHiddenValues(msgs []models.Message) []models.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if !s.local.IsHidden(m.ID) {
			out = append(out, m)
		}
	}
	return out
}

func upsertMessage(msgs []*models.Message, msg *models.Message) []*models.Message {
	for i, m := range msgs {
		if m.ID == msg.ID {
			msgs[i] = msg
			return msgs
		}
	}
	return append(msgs, msg)
}

func upsertMessageValues(msgs []models.Message, msg models.Message) []models.Message {
	for i, m := range msgs {
		if m.ID == msg.ID {
			msgs[i] = msg
			return msgs
		}
	}
	return append(msgs, msg)
}

func removeMessage(msgs []*models.Message, id int64) []*models.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func removeMessageValues(msgs []models.Message, id int64) []models.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
