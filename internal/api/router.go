package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	RegisterHandler http.HandlerFunc
	LoginHandler    http.HandlerFunc
	RefreshHandler  http.HandlerFunc
	MeHandler       http.HandlerFunc
	LogoutHandler   http.HandlerFunc

	ListJobsHandler       http.HandlerFunc
	CreateJobHandler      http.HandlerFunc
	GetJobHandler         http.HandlerFunc
	UpdateJobHandler      http.HandlerFunc
	UploadJobFilesHandler http.HandlerFunc

	ListJobMessagesHandler     http.HandlerFunc
	SendJobMessageHandler      http.HandlerFunc
	ListGeneralMessagesHandler http.HandlerFunc
	SendGeneralMessageHandler  http.HandlerFunc
	EditMessageHandler         http.HandlerFunc
	DeleteMessageHandler       http.HandlerFunc

	InitiateUpfrontHandler    http.HandlerFunc
	InitiateCompletionHandler http.HandlerFunc
	PaymentStatusHandler      http.HandlerFunc
	PaymentIPNHandler         http.HandlerFunc

	ListBlogsHandler http.HandlerFunc
	GetBlogHandler   http.HandlerFunc

	DownloadHandler http.HandlerFunc
	WSHandler       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	r.Post("/auth/register", orNotImplemented(deps.RegisterHandler))
	r.Post("/auth/login", orNotImplemented(deps.LoginHandler))
	r.Post("/auth/refresh", orNotImplemented(deps.RefreshHandler))

	r.Get("/api/blogs", orNotImplemented(deps.ListBlogsHandler))
	r.Get("/api/blogs/{id}", orNotImplemented(deps.GetBlogHandler))

	r.Get("/Uploads/{name}", orNotImplemented(deps.DownloadHandler))

	// Gateway server-to-server notification; verified against the gateway
	// itself, never trusted from the request.
	r.Get("/api/payments/ipn", orNotImplemented(deps.PaymentIPNHandler))
	r.Post("/api/payments/ipn", orNotImplemented(deps.PaymentIPNHandler))

	// The push channel authenticates via its token query parameter.
	r.Get("/ws/{topic}", orNotImplemented(deps.WSHandler))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/auth/me", orNotImplemented(deps.MeHandler))
		r.Post("/auth/logout", orNotImplemented(deps.LogoutHandler))

		r.Get("/api/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Post("/api/jobs", orNotImplemented(deps.CreateJobHandler))
		r.Get("/api/jobs/{id}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/jobs/{id}/files", orNotImplemented(deps.UploadJobFilesHandler))

		r.Get("/api/jobs/{id}/messages", orNotImplemented(deps.ListJobMessagesHandler))
		r.Post("/api/jobs/{id}/messages", orNotImplemented(deps.SendJobMessageHandler))

		r.Get("/api/messages", orNotImplemented(deps.ListGeneralMessagesHandler))
		r.Post("/api/messages", orNotImplemented(deps.SendGeneralMessageHandler))
		r.Put("/api/messages/{id}", orNotImplemented(deps.EditMessageHandler))
		r.Delete("/api/messages/{id}", orNotImplemented(deps.DeleteMessageHandler))

		r.Post("/api/payments/jobs/{id}/upfront", orNotImplemented(deps.InitiateUpfrontHandler))
		r.Post("/api/payments/jobs/{id}/completion", orNotImplemented(deps.InitiateCompletionHandler))
		r.Get("/api/payments/status/{trackingId}", orNotImplemented(deps.PaymentStatusHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireRole(models.RoleAdmin))

			r.Put("/api/jobs/{id}", orNotImplemented(deps.UpdateJobHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
