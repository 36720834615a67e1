package session

import (
	"context"
	"io"
	"time"

	"github.com/elly-james/camision/internal/client"
	"github.com/elly-james/camision/internal/localstate"
	"github.com/elly-james/camision/pkg/apperrors"
	"github.com/elly-james/camision/pkg/models"
)

// Payment polling: three attempts, waiting 1s then 2s between them.
const maxPaymentPolls = 3

// PostJob validates and submits the order form. The deadline is checked
// locally before any network traffic. The form is stashed before submission
// so it survives the checkout redirect, a crash, or re-login; it is cleared
// only once the payment resolves in CheckPaymentStatus.
func (s *Session) PostJob(ctx context.Context, sub client.JobSubmission) (*client.CreatedJob, error) {
	deadline, err := time.Parse(time.RFC3339, sub.Deadline)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "deadline must be a valid RFC3339 timestamp")
	}
	if !deadline.After(time.Now()) {
		return nil, apperrors.New(apperrors.KindValidation, "Deadline must be in the future")
	}

	s.stashDraft(sub)

	created, err := s.api.CreateJob(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[created.Job.ID] = created.Job
	s.mu.Unlock()
	s.notify()

	return created, nil
}

func (s *Session) stashDraft(sub client.JobSubmission) {
	deadline, _ := time.Parse(time.RFC3339, sub.Deadline)
	_ = s.local.SetDraft(&localstate.JobDraft{
		Subject:         sub.Subject,
		Title:           sub.Title,
		Pages:           sub.Pages,
		Deadline:        deadline,
		Instructions:    sub.Instructions,
		CitedResources:  sub.CitedResources,
		FormattingStyle: sub.FormattingStyle,
		WriterLevel:     sub.WriterLevel,
		Spacing:         sub.Spacing,
		PhoneNumber:     sub.PhoneNumber,
		FilePaths:       sub.FilePaths,
		SavedAt:         time.Now(),
	})
}

// PendingDraft returns a stashed order form, or nil.
func (s *Session) PendingDraft() *client.JobSubmission {
	d := s.local.Draft()
	if d == nil {
		return nil
	}
	return &client.JobSubmission{
		Subject:         d.Subject,
		Title:           d.Title,
		Pages:           d.Pages,
		Deadline:        d.Deadline.Format(time.RFC3339),
		Instructions:    d.Instructions,
		CitedResources:  d.CitedResources,
		FormattingStyle: d.FormattingStyle,
		WriterLevel:     d.WriterLevel,
		Spacing:         d.Spacing,
		PhoneNumber:     d.PhoneNumber,
		FilePaths:       d.FilePaths,
	}
}

// UpdateJobStatus moves a job along its lifecycle (admin) and merges the
// server's answer into the local view.
func (s *Session) UpdateJobStatus(ctx context.Context, id int64, status string) (*models.Job, error) {
	job, err := s.api.UpdateJobStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.applyJob(ctx, job)
	return job, nil
}

// UploadFiles attaches files to a job and merges the updated job.
func (s *Session) UploadFiles(ctx context.Context, id int64, paths []string) (*models.Job, error) {
	job, err := s.api.UploadJobFiles(ctx, id, paths)
	if err != nil {
		return nil, err
	}
	s.applyJob(ctx, job)
	return job, nil
}

// SendMessage posts to a job thread (jobID > 0) or the general thread and
// inserts the created message locally without waiting for the echo event.
func (s *Session) SendMessage(ctx context.Context, jobID, recipientID int64, content string, filePaths []string) (*models.Message, error) {
	msg, err := s.api.SendMessage(ctx, jobID, recipientID, content, filePaths)
	if err != nil {
		return nil, err
	}
	s.applyMessage(msg)
	return msg, nil
}

// EditMessage replaces a message's content and merges the result.
func (s *Session) EditMessage(ctx context.Context, id int64, content string) (*models.Message, error) {
	msg, err := s.api.EditMessage(ctx, id, content)
	if err != nil {
		return nil, err
	}
	s.applyMessage(msg)
	return msg, nil
}

// DeleteMessage hides the message locally first, then deletes it on the
// server. The local hide sticks even when the server call fails, so the user
// never sees a message reappear after deleting it.
func (s *Session) DeleteMessage(ctx context.Context, id int64) error {
	s.applyMessageDeleted(id)
	return s.api.DeleteMessage(ctx, id)
}

// PayRemaining starts the completion checkout for a job whose upfront
// payment has cleared.
func (s *Session) PayRemaining(ctx context.Context, jobID int64) (*client.Checkout, error) {
	return s.api.InitiateCompletion(ctx, jobID)
}

// CheckPaymentStatus polls a checkout until the gateway reports a terminal
// answer, at most three times. A cleared payment releases the stashed order
// form; a failed one keeps it so the user can resubmit. A still-pending
// answer after the last poll is KindPaymentPending: nothing failed, the user
// should check back later.
func (s *Session) CheckPaymentStatus(ctx context.Context, trackingID string) (string, error) {
	var status string
	for attempt := 1; attempt <= maxPaymentPolls; attempt++ {
		var err error
		status, err = s.api.PaymentStatus(ctx, trackingID)
		if err != nil {
			return "", err
		}
		if status != models.PaymentStatusPending {
			if status == models.PaymentStatusCompleted {
				_ = s.local.SetDraft(nil)
			}
			return status, nil
		}
		if attempt == maxPaymentPolls {
			break
		}
		// 1s, 2s
		if err := s.sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			return "", apperrors.Wrap(apperrors.KindTransient, "polling interrupted", err)
		}
	}
	return status, apperrors.New(apperrors.KindPaymentPending,
		"Payment is still processing; check back shortly")
}

// DownloadFile streams a stored upload into w.
func (s *Session) DownloadFile(ctx context.Context, name string, w io.Writer) error {
	return s.api.DownloadFile(ctx, name, w)
}
