package session

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elly-james/camision/internal/client"
	"github.com/elly-james/camision/internal/localstate"
	"github.com/elly-james/camision/pkg/apperrors"
	"github.com/elly-james/camision/pkg/models"
)

// fakeAPI scripts the REST client.
type fakeAPI struct {
	mu sync.Mutex

	me      *models.User
	jobs    map[int64]*models.Job
	general []*models.Message

	meErrs          []error // consumed per call before succeeding
	listJobsErrs    []error
	generalErrs     []error
	createErr       error
	created         *client.CreatedJob
	deleteErr       error
	statuses        []string // consumed per PaymentStatus call
	statusCalls     int
	meCalls         int
	listJobsCalls   int
	getJobCalls     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		me:   &models.User{ID: 1, Email: "c@example.com", Role: models.RoleClient},
		jobs: map[int64]*models.Job{},
	}
}

func (f *fakeAPI) popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeAPI) Me(ctx context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	if err := f.popErr(&f.meErrs); err != nil {
		return nil, err
	}
	cp := *f.me
	return &cp, nil
}

func (f *fakeAPI) ListJobs(ctx context.Context) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listJobsCalls++
	if err := f.popErr(&f.listJobsErrs); err != nil {
		return nil, err
	}
	out := make([]*models.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeAPI) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getJobCalls++
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "Job not found")
	}
	cp := *j
	cp.Messages = append([]models.Message(nil), j.Messages...)
	return &cp, nil
}

func (f *fakeAPI) ListGeneralMessages(ctx context.Context, clientID int64) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.generalErrs); err != nil {
		return nil, err
	}
	return append([]*models.Message(nil), f.general...), nil
}

func (f *fakeAPI) CreateJob(ctx context.Context, sub client.JobSubmission) (*client.CreatedJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.created, nil
}

func (f *fakeAPI) UpdateJobStatus(ctx context.Context, id int64, status string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "Job not found")
	}
	j.Status = status
	cp := *j
	return &cp, nil
}

func (f *fakeAPI) UploadJobFiles(ctx context.Context, id int64, paths []string) (*models.Job, error) {
	return f.GetJob(ctx, id)
}

func (f *fakeAPI) SendMessage(ctx context.Context, jobID, recipientID int64, content string, filePaths []string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &models.Message{ID: int64(len(f.general) + 100), Content: content, ClientID: 1}
	if jobID > 0 {
		msg.JobID = &jobID
	}
	return msg, nil
}

func (f *fakeAPI) EditMessage(ctx context.Context, id int64, content string) (*models.Message, error) {
	return &models.Message{ID: id, Content: content}, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeAPI) InitiateCompletion(ctx context.Context, jobID int64) (*client.Checkout, error) {
	return &client.Checkout{RedirectURL: "https://pay.example.com", CompletionTrackingID: "trk-c"}, nil
}

func (f *fakeAPI) PaymentStatus(ctx context.Context, trackingID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statuses) == 0 {
		return models.PaymentStatusPending, nil
	}
	s := f.statuses[0]
	f.statuses = f.statuses[1:]
	return s, nil
}

func (f *fakeAPI) DownloadFile(ctx context.Context, name string, w io.Writer) error {
	_, err := io.WriteString(w, "blob")
	return err
}

func newTestSession(t *testing.T, api API) (*Session, *localstate.Store) {
	t.Helper()
	local, err := localstate.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	s := New(api, local)
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s, local
}

func jobEnvelope(t *testing.T, event string, job models.Job) models.Envelope {
	t.Helper()
	return models.NewEnvelope(event, models.JobEvent{Job: job})
}

func TestLoadInitial(t *testing.T) {
	api := newFakeAPI()
	api.jobs[1] = &models.Job{ID: 1, Title: "Essay"}
	api.general = []*models.Message{{ID: 5, Content: "hi"}}

	s, _ := newTestSession(t, api)
	require.NoError(t, s.LoadInitial(context.Background()))

	assert.Len(t, s.Jobs(), 1)
	assert.Len(t, s.GeneralMessages(), 1)

	user := s.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, "c@example.com", user.Email)
	assert.Equal(t, models.RoleClient, user.Role)
}

func TestLoadInitial_IdentityFetchAuthErrorAborts(t *testing.T) {
	api := newFakeAPI()
	api.meErrs = []error{apperrors.New(apperrors.KindAuth, "session expired")}

	s, _ := newTestSession(t, api)
	err := s.LoadInitial(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsAuth(err))
	assert.Equal(t, 1, api.meCalls)
	assert.Nil(t, s.CurrentUser())
}

func TestLoadInitial_RetriesTransientThenSucceeds(t *testing.T) {
	api := newFakeAPI()
	api.jobs[1] = &models.Job{ID: 1}
	api.listJobsErrs = []error{
		apperrors.New(apperrors.KindTransient, "boom"),
		apperrors.New(apperrors.KindTransient, "boom"),
	}

	s, _ := newTestSession(t, api)
	require.NoError(t, s.LoadInitial(context.Background()))
	assert.Equal(t, 3, api.listJobsCalls)
}

func TestLoadInitial_GivesUpAfterThreeAttempts(t *testing.T) {
	api := newFakeAPI()
	api.listJobsErrs = []error{
		apperrors.New(apperrors.KindTransient, "boom"),
		apperrors.New(apperrors.KindTransient, "boom"),
		apperrors.New(apperrors.KindTransient, "boom"),
	}

	s, _ := newTestSession(t, api)
	err := s.LoadInitial(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, 3, api.listJobsCalls)
}

func TestLoadInitial_AuthErrorAbortsImmediately(t *testing.T) {
	api := newFakeAPI()
	api.listJobsErrs = []error{apperrors.New(apperrors.KindAuth, "session expired")}

	s, _ := newTestSession(t, api)
	err := s.LoadInitial(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsAuth(err))
	assert.Equal(t, 1, api.listJobsCalls)
}

func TestApplyJob_DuplicateNewJobIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	job := models.Job{ID: 7, Title: "Essay", Status: models.JobStatusPending}
	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob, job))
	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob, job))

	assert.Len(t, s.Jobs(), 1)
}

func TestApplyJob_UpdateConvergesOnPayload(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob,
		models.Job{ID: 7, Status: models.JobStatusPending}))
	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventJobUpdated,
		models.Job{ID: 7, Status: models.JobStatusInProgress}))

	assert.Equal(t, models.JobStatusInProgress, s.Job(7).Status)
}

func TestApplyJob_UpdateBeforeInsertStillLands(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	// job_updated arriving before any new_job must still produce the job.
	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventJobUpdated,
		models.Job{ID: 9, Status: models.JobStatusInProgress}))

	require.NotNil(t, s.Job(9))
	assert.Equal(t, models.JobStatusInProgress, s.Job(9).Status)
}

func TestApplyJob_SelectedJobIsRefetched(t *testing.T) {
	api := newFakeAPI()
	api.jobs[7] = &models.Job{ID: 7, Status: models.JobStatusPending,
		Messages: []models.Message{{ID: 1, Content: "thread"}}}

	s, _ := newTestSession(t, api)
	_, err := s.SelectJob(context.Background(), 7)
	require.NoError(t, err)
	fetchesBefore := api.getJobCalls

	api.mu.Lock()
	api.jobs[7].Status = models.JobStatusInProgress
	api.mu.Unlock()

	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventJobUpdated,
		models.Job{ID: 7, Status: models.JobStatusInProgress}))

	assert.Greater(t, api.getJobCalls, fetchesBefore)
	sel := s.SelectedJob()
	require.NotNil(t, sel)
	assert.Equal(t, models.JobStatusInProgress, sel.Status)
	assert.Len(t, sel.Messages, 1)
}

func TestApplyPaymentStatus_PartialPayloadMergesIntoKnownJob(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob,
		models.Job{ID: 7, Title: "Essay", Pages: 4, PaymentStatus: models.PaymentStatusPending}))

	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventPaymentStatusUpdated,
		models.PaymentStatusEvent{JobID: 7, PaymentStatus: models.PaymentStatusPartial}))

	job := s.Job(7)
	assert.Equal(t, models.PaymentStatusPartial, job.PaymentStatus)
	// The partial event must not blank out the rest of the job.
	assert.Equal(t, "Essay", job.Title)
	assert.Equal(t, 4, job.Pages)
}

func TestApplyPaymentStatus_UnknownJobIsDropped(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventPaymentStatusUpdated,
		models.PaymentStatusEvent{JobID: 404, PaymentStatus: models.PaymentStatusPartial}))

	assert.Nil(t, s.Job(404))
}

func TestDeleteMessage_HiddenEvenWhenServerFails(t *testing.T) {
	api := newFakeAPI()
	api.deleteErr = apperrors.New(apperrors.KindTransient, "boom")

	s, local := newTestSession(t, api)
	s.applyMessage(&models.Message{ID: 42, Content: "to remove"})
	require.Len(t, s.GeneralMessages(), 1)

	err := s.DeleteMessage(context.Background(), 42)
	require.Error(t, err)

	assert.Empty(t, s.GeneralMessages())
	assert.True(t, local.IsHidden(42))
}

func TestHiddenMessageSurvivesRefetch(t *testing.T) {
	api := newFakeAPI()
	api.jobs[7] = &models.Job{ID: 7, Messages: []models.Message{
		{ID: 1, Content: "keep"},
		{ID: 2, Content: "deleted elsewhere"},
	}}

	s, local := newTestSession(t, api)
	require.NoError(t, local.HideMessage(2))

	job, err := s.SelectJob(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, job.Messages, 1)
	assert.Equal(t, "keep", job.Messages[0].Content)
}

func TestHiddenMessageEventIsIgnored(t *testing.T) {
	api := newFakeAPI()
	s, local := newTestSession(t, api)
	require.NoError(t, local.HideMessage(42))

	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventNewGeneralMessage,
		models.MessageEvent{Message: models.Message{ID: 42, Content: "resent"}}))

	assert.Empty(t, s.GeneralMessages())
}

func TestApplyMessage_JobScopedEventLandsInThread(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob, models.Job{ID: 7}))

	// Job-scoped messages ride the same event as general ones; the payload's
	// job_id decides the thread.
	jobID := int64(7)
	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventNewGeneralMessage,
		models.MessageEvent{Message: models.Message{ID: 3, JobID: &jobID, Content: "on the job"}}))

	require.Len(t, s.Job(7).Messages, 1)
	assert.Empty(t, s.GeneralMessages())
}

func TestMessageUpdatedReplacesInPlace(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.applyMessage(&models.Message{ID: 1, Content: "orig"})
	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventMessageUpdated,
		models.MessageEvent{Message: models.Message{ID: 1, Content: "edited"}}))

	msgs := s.GeneralMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "edited", msgs[0].Content)
}

func TestPostJob_DeadlineValidatedLocally(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	_, err := s.PostJob(context.Background(), client.JobSubmission{
		Deadline: time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "Deadline must be in the future")
	// No network call was made.
	assert.Equal(t, 0, api.listJobsCalls)
}

func TestPostJob_StashesDraftOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.createErr = apperrors.New(apperrors.KindTransient, "boom")
	s, _ := newTestSession(t, api)

	sub := client.JobSubmission{
		Subject:  "History",
		Title:    "Essay",
		Pages:    3,
		Deadline: time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	}
	_, err := s.PostJob(context.Background(), sub)
	require.Error(t, err)

	draft := s.PendingDraft()
	require.NotNil(t, draft)
	assert.Equal(t, "Essay", draft.Title)
	assert.Equal(t, 3, draft.Pages)
}

func TestPostJob_DraftSurvivesUntilPaymentResolves(t *testing.T) {
	api := newFakeAPI()
	api.created = &client.CreatedJob{
		Job:             &models.Job{ID: 7, Title: "Essay"},
		RedirectURL:     "https://pay.example.com",
		OrderTrackingID: "trk-1",
	}
	s, _ := newTestSession(t, api)

	created, err := s.PostJob(context.Background(), client.JobSubmission{
		Title:    "Essay",
		Deadline: time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, "trk-1", created.OrderTrackingID)
	assert.NotNil(t, s.Job(7))

	// The form is stashed across the checkout redirect.
	draft := s.PendingDraft()
	require.NotNil(t, draft)
	assert.Equal(t, "Essay", draft.Title)

	api.mu.Lock()
	api.statuses = []string{models.PaymentStatusCompleted}
	api.mu.Unlock()

	status, err := s.CheckPaymentStatus(context.Background(), "trk-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, status)
	assert.Nil(t, s.PendingDraft())
}

func TestCheckPaymentStatus_FailedKeepsDraft(t *testing.T) {
	api := newFakeAPI()
	api.statuses = []string{models.PaymentStatusFailed}
	s, local := newTestSession(t, api)
	require.NoError(t, local.SetDraft(&localstate.JobDraft{Title: "Essay"}))

	status, err := s.CheckPaymentStatus(context.Background(), "trk-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, status)
	// The user can restore the form and try again.
	require.NotNil(t, s.PendingDraft())
}

func TestCheckPaymentStatus_ExactlyThreePollsWhenPending(t *testing.T) {
	api := newFakeAPI() // always Pending
	s, _ := newTestSession(t, api)

	status, err := s.CheckPaymentStatus(context.Background(), "trk-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsPaymentPending(err))
	assert.Equal(t, models.PaymentStatusPending, status)
	assert.Equal(t, 3, api.statusCalls)
}

func TestCheckPaymentStatus_StopsOnTerminalAnswer(t *testing.T) {
	api := newFakeAPI()
	api.statuses = []string{models.PaymentStatusPending, models.PaymentStatusCompleted}
	s, _ := newTestSession(t, api)

	status, err := s.CheckPaymentStatus(context.Background(), "trk-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, status)
	assert.Equal(t, 2, api.statusCalls)
}

func TestSubscribeFiresOnChange(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	var fired int
	s.Subscribe(func() { fired++ })

	s.ApplyEvent(context.Background(), jobEnvelope(t, models.EventNewJob, models.Job{ID: 1}))
	assert.Equal(t, 1, fired)
}

func TestSendMessage_InsertsLocally(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	msg, err := s.SendMessage(context.Background(), 0, 0, "hello", nil)
	require.NoError(t, err)
	require.Len(t, s.GeneralMessages(), 1)

	// The echo event for the same message must not duplicate it.
	s.ApplyEvent(context.Background(), models.NewEnvelope(models.EventNewGeneralMessage,
		models.MessageEvent{Message: *msg}))
	assert.Len(t, s.GeneralMessages(), 1)
}

func TestUnknownEventIsIgnored(t *testing.T) {
	api := newFakeAPI()
	s, _ := newTestSession(t, api)

	s.ApplyEvent(context.Background(), models.Envelope{Event: "mystery", Data: []byte(`{}`)})
	assert.Empty(t, s.Jobs())
}
