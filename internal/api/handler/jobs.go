package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/cache"
	"github.com/elly-james/camision/internal/files"
	"github.com/elly-james/camision/internal/payments"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/pkg/models"
)

const (
	maxUploadBytes  = 32 << 20
	jobListCacheTTL = 30 * time.Second
	upfrontShare    = 0.25
)

// Per-page rates by writer level, mirroring the order form.
var pageRates = map[string]float64{
	"highschool": 6,
	"college":    9,
	"bachelors":  12,
	"masters":    15,
	"phd":        18,
}

// JobPublisher is the slice of the hub the job handlers need.
type JobPublisher interface {
	PublishJob(event string, job *models.Job)
}

// Blobs is the slice of file storage the handlers need.
type Blobs interface {
	Save(originalName string, r io.Reader) (string, error)
	Open(name string) (io.ReadCloser, error)
}

// NewListJobsHandler returns the handler for GET /api/jobs. Clients see their
// own jobs; the admin sees everything. The per-user list is cached briefly.
func NewListJobsHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		if b, found, err := c.Get(r.Context(), cache.JobListKey(id.UserID)); err == nil && found {
			w.Header().Set("Content-Type", "application/json")
			w.Write(b)
			return
		}

		filter := store.JobFilter{}
		if id.Role != models.RoleAdmin {
			uid := id.UserID
			filter.UserID = &uid
		}

		jobs, err := s.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list jobs", nil)
			return
		}

		if b, err := json.Marshal(jobs); err == nil {
			_ = c.Set(r.Context(), cache.JobListKey(id.UserID), b, jobListCacheTTL)
		}
		response.JSON(w, jobs)
	}
}

// NewGetJobHandler returns the handler for GET /api/jobs/{id}: full detail,
// embedded message thread included.
func NewGetJobHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}
		if id.Role != models.RoleAdmin && job.UserID != id.UserID {
			// Hide other clients' jobs entirely.
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewCreateJobHandler returns the handler for POST /api/jobs (multipart).
// The job is created in Pending Payment, upfront checkout is initiated with
// the gateway, and the redirect URL comes back alongside the job so the
// client can complete payment out of band.
func NewCreateJobHandler(s store.Store, c cache.Cache, gw payments.Gateway, blobs Blobs, pub JobPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form", nil)
			return
		}

		job, errMsg := jobFromForm(r, id)
		if errMsg != "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", errMsg, nil)
			return
		}

		var saved []string
		if r.MultipartForm != nil {
			names, err := saveUploads(blobs, r.MultipartForm.File["files"], "")
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not store uploads", nil)
				return
			}
			saved = names
		}
		job.Files = saved

		if err := s.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not create job", nil)
			return
		}

		order, err := gw.SubmitOrder(r.Context(), payments.OrderRequest{
			MerchantReference: fmt.Sprintf("job-%d-upfront", job.ID),
			Amount:            round2(job.TotalAmount * upfrontShare),
			Description:       fmt.Sprintf("Upfront payment for %q", job.Title),
			Email:             id.Email,
			PhoneNumber:       r.FormValue("phone_number"),
		})
		if err != nil {
			slog.Error("initiate upfront payment", "job_id", job.ID, "error", err)
			response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR",
				"Job saved but payment could not be initiated; retry from your dashboard", nil)
			return
		}

		if err := s.UpdateJobPayment(r.Context(), job.ID, models.PaymentStatusPending,
			store.WithOrderTrackingID(order.TrackingID)); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not record payment", nil)
			return
		}
		job.OrderTrackingID = &order.TrackingID

		_ = c.Delete(r.Context(), cache.JobListKey(id.UserID))
		pub.PublishJob(models.EventNewJob, job)

		response.Created(w, map[string]any{
			"job":               job,
			"redirect_url":      order.RedirectURL,
			"order_tracking_id": order.TrackingID,
		})
	}
}

// NewUpdateJobHandler returns the handler for PUT /api/jobs/{id}. Admin-only;
// updates the status field and broadcasts the merged job.
func NewUpdateJobHandler(s store.Store, c cache.Cache, pub JobPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "status is required", nil)
			return
		}

		if err := s.UpdateJobStatus(r.Context(), jobID, req.Status); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_TRANSITION", err.Error(), nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}

		_ = c.Delete(r.Context(), cache.JobListKey(job.UserID))
		pub.PublishJob(models.EventJobUpdated, job)
		response.JSON(w, job)
	}
}

// NewUploadJobFilesHandler returns the handler for POST /api/jobs/{id}/files
// (multipart). Clients attach additional material to their own jobs; the
// admin attaches completed deliverables to any job.
func NewUploadJobFilesHandler(s store.Store, c cache.Cache, blobs Blobs, pub JobPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		job, err := s.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}

		completed := id.Role == models.RoleAdmin
		if !completed && job.UserID != id.UserID {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form", nil)
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "No files provided", nil)
			return
		}

		prefix := files.PrefixAdditional
		if completed {
			prefix = files.PrefixCompleted
		}
		saved, err := saveUploads(blobs, headers, prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not store uploads", nil)
			return
		}

		if err := s.AppendJobFiles(r.Context(), jobID, completed, saved); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not attach files", nil)
			return
		}

		job, err = s.GetJob(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
			return
		}

		_ = c.Delete(r.Context(), cache.JobListKey(job.UserID))
		pub.PublishJob(models.EventJobUpdated, job)
		response.JSON(w, job)
	}
}

// jobFromForm validates the multipart order form into a job row. Returns a
// user-facing message on validation failure.
func jobFromForm(r *http.Request, id middleware.Identity) (*models.Job, string) {
	subject := strings.TrimSpace(r.FormValue("subject"))
	title := strings.TrimSpace(r.FormValue("title"))
	instructions := strings.TrimSpace(r.FormValue("instructions"))
	if subject == "" || title == "" || instructions == "" {
		return nil, "subject, title and instructions are required"
	}

	pages, err := strconv.Atoi(r.FormValue("pages"))
	if err != nil || pages < 1 {
		return nil, "pages must be a positive number"
	}

	deadline, err := time.Parse(time.RFC3339, r.FormValue("deadline"))
	if err != nil {
		return nil, "deadline must be a valid RFC3339 timestamp"
	}
	if !deadline.After(time.Now()) {
		return nil, "Deadline must be in the future"
	}

	writerLevel := r.FormValue("writerLevel")
	rate, ok := pageRates[writerLevel]
	if !ok {
		writerLevel = "highschool"
		rate = pageRates[writerLevel]
	}

	citedResources, _ := strconv.Atoi(r.FormValue("citedResources"))
	formattingStyle := r.FormValue("formattingStyle")
	if formattingStyle == "" {
		formattingStyle = "APA"
	}
	spacing := r.FormValue("spacing")
	if spacing == "" {
		spacing = "double"
	}

	return &models.Job{
		UserID:          id.UserID,
		ClientEmail:     id.Email,
		Subject:         subject,
		Title:           title,
		Pages:           pages,
		Deadline:        deadline.UTC(),
		Instructions:    instructions,
		CitedResources:  citedResources,
		FormattingStyle: formattingStyle,
		WriterLevel:     writerLevel,
		Spacing:         spacing,
		TotalAmount:     round2(float64(pages) * rate),
		Status:          models.JobStatusPendingPayment,
		PaymentStatus:   models.PaymentStatusPending,
	}, ""
}

func saveUploads(blobs Blobs, headers []*multipart.FileHeader, prefix string) ([]string, error) {
	saved := []string{}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		name, err := blobs.Save(prefix+fh.Filename, f)
		f.Close()
		if err != nil {
			return nil, err
		}
		saved = append(saved, name)
	}
	return saved, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
