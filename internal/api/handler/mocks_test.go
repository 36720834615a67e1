package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/elly-james/camision/internal/files"
	"github.com/elly-james/camision/internal/payments"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/pkg/models"
)

// fakeStore is an in-memory Store for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	jobs     map[int64]*models.Job
	messages map[int64]*models.Message
	blogs    map[int64]*models.Blog
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[int64]*models.User{},
		jobs:     map[int64]*models.Job{},
		messages: map[int64]*models.Message{},
		blogs:    map[int64]*models.Blog{},
		nextID:   1,
	}
}

func (f *fakeStore) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return store.ErrDuplicateKey
		}
	}
	u.ID = f.id()
	u.CreatedAt = time.Now()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetAdmin(ctx context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Role == models.RoleAdmin {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateJob(ctx context.Context, j *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j.ID = f.id()
	j.CreatedAt = time.Now()
	f.jobs[j.ID] = j
	return nil
}

func (f *fakeStore) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, j := range f.jobs {
		if filter.UserID != nil && j.UserID != *filter.UserID {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) GetJobByTrackingID(ctx context.Context, trackingID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if (j.OrderTrackingID != nil && *j.OrderTrackingID == trackingID) ||
			(j.CompletionTrackingID != nil && *j.CompletionTrackingID == trackingID) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

var fakeTransitions = map[string][]string{
	models.JobStatusPendingPayment: {models.JobStatusPending},
	models.JobStatusPending:        {models.JobStatusInProgress},
	models.JobStatusInProgress:     {models.JobStatusCompleted},
}

func (f *fakeStore) UpdateJobStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, allowed := range fakeTransitions[j.Status] {
		if allowed == status {
			j.Status = status
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", j.Status, status)
}

func (f *fakeStore) UpdateJobPayment(ctx context.Context, id int64, paymentStatus string, opts ...store.PaymentUpdateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.PaymentStatus = paymentStatus
	p := store.ResolvePaymentUpdate(opts)
	if p.OrderTrackingID != nil {
		j.OrderTrackingID = p.OrderTrackingID
	}
	if p.CompletionTrackingID != nil {
		j.CompletionTrackingID = p.CompletionTrackingID
	}
	if p.JobStatus != nil {
		j.Status = *p.JobStatus
	}
	return nil
}

func (f *fakeStore) AppendJobFiles(ctx context.Context, id int64, completed bool, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if completed {
		j.CompletedFiles = append(j.CompletedFiles, names...)
	} else {
		j.Files = append(j.Files, names...)
	}
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = f.id()
	m.CreatedAt = time.Now()
	f.messages[m.ID] = m
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, filter store.MessageFilter) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Message
	for _, m := range f.messages {
		if filter.JobID != nil && (m.JobID == nil || *m.JobID != *filter.JobID) {
			continue
		}
		if filter.General && m.JobID != nil {
			continue
		}
		if filter.ClientID != nil && m.ClientID != *filter.ClientID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) UpdateMessageContent(ctx context.Context, id int64, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.Content = content
	cp := *m
	return &cp, nil
}

func (f *fakeStore) DeleteMessage(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.messages, id)
	return nil
}

func (f *fakeStore) ListBlogs(ctx context.Context) ([]*models.Blog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.Blog{}
	for _, b := range f.blogs {
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f *fakeStore) GetBlog(ctx context.Context, id int64) (*models.Blog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blogs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

// fakeCache is an in-memory Cache for handler tests.
type fakeCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	statuses map[string]string
	counters map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values:   map[string][]byte{},
		statuses: map[string]string{},
		counters: map[string]int64{},
	}
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeCache) Ping(ctx context.Context) error { return nil }

func (f *fakeCache) SetPaymentStatus(ctx context.Context, trackingID, status string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[trackingID] = status
	return nil
}

func (f *fakeCache) GetPaymentStatus(ctx context.Context, trackingID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[trackingID]
	return s, ok, nil
}

func (f *fakeCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

// fakeGateway is a scripted payments.Gateway.
type fakeGateway struct {
	mu            sync.Mutex
	submitErr     error
	statusErr     error
	status        string
	submitCalls   int
	statusCalls   int
	lastOrder     payments.OrderRequest
	trackingID    string
	redirectURL   string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		status:      models.PaymentStatusPending,
		trackingID:  "trk-1",
		redirectURL: "https://pay.example.com/trk-1",
	}
}

func (f *fakeGateway) SubmitOrder(ctx context.Context, order payments.OrderRequest) (*payments.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastOrder = order
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &payments.OrderResponse{TrackingID: f.trackingID, RedirectURL: f.redirectURL}, nil
}

func (f *fakeGateway) TransactionStatus(ctx context.Context, trackingID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

// fakePublisher records published events instead of pushing them.
type published struct {
	event string
	job   *models.Job
	msg   *models.Message
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) PublishJob(event string, job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{event: event, job: job})
}

func (f *fakePublisher) PublishPaymentStatus(job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{event: models.EventPaymentStatusUpdated, job: job})
}

func (f *fakePublisher) PublishMessage(event string, msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{event: event, msg: msg})
}

func (f *fakePublisher) PublishMessageDeleted(messageID, clientID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{
		event: models.EventMessageDeleted,
		msg:   &models.Message{ID: messageID, ClientID: clientID},
	})
}

func (f *fakePublisher) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.events))
	for i, e := range f.events {
		names[i] = e.event
	}
	return names
}

// fakeBlobs keeps uploads in memory.
type fakeBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: map[string][]byte{}}
}

func (f *fakeBlobs) Save(originalName string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[originalName] = b
	return originalName, nil
}

func (f *fakeBlobs) Open(name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[name]
	if !ok {
		return nil, files.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

var _ store.Store = (*fakeStore)(nil)
var _ payments.Gateway = (*fakeGateway)(nil)
