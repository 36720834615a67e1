package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/cache"
	"github.com/elly-james/camision/internal/payments"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/pkg/models"
)

// Gateway status is cached briefly so several sessions polling the same
// checkout share one upstream call.
const paymentStatusCacheTTL = 10 * time.Second

// PaymentPublisher is the slice of the hub the payment handlers need.
type PaymentPublisher interface {
	PublishPaymentStatus(job *models.Job)
	PublishJob(event string, job *models.Job)
}

// NewInitiateUpfrontHandler returns the handler for
// POST /api/payments/jobs/{id}/upfront. Job creation already initiates the
// upfront checkout; this endpoint re-initiates it when the client abandoned
// the redirect or the first attempt failed.
func NewInitiateUpfrontHandler(s store.Store, gw payments.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, id, ok := ownJob(w, r, s)
		if !ok {
			return
		}

		if job.PaymentStatus != models.PaymentStatusPending && job.PaymentStatus != models.PaymentStatusFailed {
			response.Error(w, http.StatusConflict, "ALREADY_PAID", "Upfront payment has already cleared", nil)
			return
		}

		order, err := gw.SubmitOrder(r.Context(), payments.OrderRequest{
			MerchantReference: fmt.Sprintf("job-%d-upfront-%d", job.ID, time.Now().Unix()),
			Amount:            round2(job.TotalAmount * upfrontShare),
			Description:       fmt.Sprintf("Upfront payment for %q", job.Title),
			Email:             id.Email,
			PhoneNumber:       r.FormValue("phone_number"),
		})
		if err != nil {
			slog.Error("re-initiate upfront payment", "job_id", job.ID, "error", err)
			response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "Could not reach the payment gateway", nil)
			return
		}

		if err := s.UpdateJobPayment(r.Context(), job.ID, models.PaymentStatusPending,
			store.WithOrderTrackingID(order.TrackingID)); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not record payment", nil)
			return
		}

		response.JSON(w, map[string]string{
			"redirect_url":      order.RedirectURL,
			"order_tracking_id": order.TrackingID,
		})
	}
}

// NewInitiateCompletionHandler returns the handler for
// POST /api/payments/jobs/{id}/completion: the remaining balance, available
// once the upfront payment has cleared.
func NewInitiateCompletionHandler(s store.Store, gw payments.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, id, ok := ownJob(w, r, s)
		if !ok {
			return
		}

		if job.PaymentStatus != models.PaymentStatusPartial {
			response.Error(w, http.StatusConflict, "PAYMENT_NOT_DUE",
				"Completion payment is only available after the upfront payment clears", nil)
			return
		}

		order, err := gw.SubmitOrder(r.Context(), payments.OrderRequest{
			MerchantReference: fmt.Sprintf("job-%d-completion-%d", job.ID, time.Now().Unix()),
			Amount:            round2(job.TotalAmount * (1 - upfrontShare)),
			Description:       fmt.Sprintf("Completion payment for %q", job.Title),
			Email:             id.Email,
			PhoneNumber:       r.FormValue("phone_number"),
		})
		if err != nil {
			slog.Error("initiate completion payment", "job_id", job.ID, "error", err)
			response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "Could not reach the payment gateway", nil)
			return
		}

		if err := s.UpdateJobPayment(r.Context(), job.ID, job.PaymentStatus,
			store.WithCompletionTrackingID(order.TrackingID)); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not record payment", nil)
			return
		}

		response.JSON(w, map[string]string{
			"redirect_url":          order.RedirectURL,
			"completion_tracking_id": order.TrackingID,
		})
	}
}

// NewPaymentStatusHandler returns the handler for
// GET /api/payments/status/{trackingId}. The gateway answer is cached in
// redis; a Completed answer advances the job's payment state and broadcasts
// the change.
func NewPaymentStatusHandler(s store.Store, c cache.Cache, gw payments.Gateway, pub PaymentPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.GetIdentity(r); !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}

		trackingID := chi.URLParam(r, "trackingId")
		if trackingID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing tracking id", nil)
			return
		}

		if status, found, err := c.GetPaymentStatus(r.Context(), trackingID); err == nil && found {
			response.JSON(w, map[string]string{"payment_status": status})
			return
		}

		status, err := gw.TransactionStatus(r.Context(), trackingID)
		if err != nil {
			slog.Error("poll payment status", "tracking_id", trackingID, "error", err)
			response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "Could not reach the payment gateway", nil)
			return
		}

		_ = c.SetPaymentStatus(r.Context(), trackingID, status, paymentStatusCacheTTL)

		if err := applyPaymentStatus(r, s, c, pub, trackingID, status); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not record payment", nil)
			return
		}

		response.JSON(w, map[string]string{"payment_status": status})
	}
}

// NewPaymentIPNHandler returns the handler for the gateway's server-to-server
// notification, GET /api/payments/ipn?OrderTrackingId=...  Unauthenticated by
// design; the tracking id itself is the shared secret, and the status is
// re-fetched from the gateway rather than trusted from the request.
func NewPaymentIPNHandler(s store.Store, c cache.Cache, gw payments.Gateway, pub PaymentPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trackingID := r.URL.Query().Get("OrderTrackingId")
		if trackingID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing OrderTrackingId", nil)
			return
		}

		status, err := gw.TransactionStatus(r.Context(), trackingID)
		if err != nil {
			slog.Error("ipn status fetch", "tracking_id", trackingID, "error", err)
			response.Error(w, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", "Could not verify notification", nil)
			return
		}

		_ = c.SetPaymentStatus(r.Context(), trackingID, status, paymentStatusCacheTTL)

		if err := applyPaymentStatus(r, s, c, pub, trackingID, status); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not record payment", nil)
			return
		}

		response.JSON(w, map[string]any{
			"orderNotificationType": "IPNCHANGE",
			"orderTrackingId":       trackingID,
			"status":                http.StatusOK,
		})
	}
}

// applyPaymentStatus advances a job's payment state from a gateway answer.
// An upfront checkout clearing moves Pending -> Partial and releases the job
// into the admin queue; a completion checkout clearing moves Partial ->
// Completed. Anything else is recorded as-is without touching job status.
func applyPaymentStatus(r *http.Request, s store.Store, c cache.Cache, pub PaymentPublisher, trackingID, status string) error {
	job, err := s.GetJobByTrackingID(r.Context(), trackingID)
	if errors.Is(err, store.ErrNotFound) {
		// A checkout we did not initiate. Nothing to update.
		return nil
	}
	if err != nil {
		return err
	}

	upfront := job.OrderTrackingID != nil && *job.OrderTrackingID == trackingID

	var next string
	var opts []store.PaymentUpdateOption
	switch {
	case status == models.PaymentStatusCompleted && upfront && job.PaymentStatus == models.PaymentStatusPending:
		next = models.PaymentStatusPartial
		opts = append(opts, store.WithJobStatus(models.JobStatusPending))
	case status == models.PaymentStatusCompleted && !upfront && job.PaymentStatus == models.PaymentStatusPartial:
		next = models.PaymentStatusCompleted
	case status == models.PaymentStatusFailed && job.PaymentStatus == models.PaymentStatusPending:
		next = models.PaymentStatusFailed
	default:
		// Pending, Invalid, or a repeat of something already applied.
		return nil
	}

	if err := s.UpdateJobPayment(r.Context(), job.ID, next, opts...); err != nil {
		return err
	}

	job, err = s.GetJob(r.Context(), job.ID)
	if err != nil {
		return err
	}

	_ = c.Delete(r.Context(), cache.JobListKey(job.UserID))
	pub.PublishPaymentStatus(job)
	if next == models.PaymentStatusPartial {
		// The job just became visible in the admin queue.
		pub.PublishJob(models.EventJobUpdated, job)
	}
	return nil
}

// ownJob loads the {id} job and checks the caller may act on it. Writes the
// error response itself when not.
func ownJob(w http.ResponseWriter, r *http.Request, s store.Store) (*models.Job, middleware.Identity, bool) {
	id, ok := middleware.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
		return nil, middleware.Identity{}, false
	}

	jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
		return nil, id, false
	}

	job, err := s.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, id, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load job", nil)
		return nil, id, false
	}
	if id.Role != models.RoleAdmin && job.UserID != id.UserID {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, id, false
	}
	return job, id, true
}
