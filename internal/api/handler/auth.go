package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/elly-james/camision/internal/api/middleware"
	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/auth"
	"github.com/elly-james/camision/internal/store"
	"github.com/elly-james/camision/pkg/models"
)

type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	Role         string       `json:"role"`
	User         *models.User `json:"user"`
}

// NewRegisterHandler returns the handler for POST /auth/register. New accounts
// are always clients; the single admin is seeded by migration.
func NewRegisterHandler(s store.Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		req.Email = strings.TrimSpace(strings.ToLower(req.Email))
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "A valid email is required", nil)
			return
		}
		if len(req.Password) < 8 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Password must be at least 8 characters", nil)
			return
		}
		if req.Name == "" {
			req.Name = strings.SplitN(req.Email, "@", 2)[0]
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not create account", nil)
			return
		}

		user := &models.User{
			Email:        req.Email,
			Name:         req.Name,
			Role:         models.RoleClient,
			PasswordHash: hash,
		}
		if err := s.CreateUser(r.Context(), user); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "EMAIL_TAKEN", "An account with this email already exists", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not create account", nil)
			return
		}

		pair, err := tokens.Issue(user)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not issue tokens", nil)
			return
		}
		response.Created(w, authResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			Role:         user.Role,
			User:         user,
		})
	}
}

// NewLoginHandler returns the handler for POST /auth/login.
func NewLoginHandler(s store.Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		user, err := s.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
		if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
			// Same response for unknown email and wrong password.
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}

		pair, err := tokens.Issue(user)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not issue tokens", nil)
			return
		}
		response.JSON(w, authResponse{
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			Role:         user.Role,
			User:         user,
		})
	}
}

// NewRefreshHandler returns the handler for POST /auth/refresh. The refresh
// token travels in the Authorization header; a fresh access token comes back.
func NewRefreshHandler(s store.Store, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing refresh token", nil)
			return
		}

		claims, err := tokens.ParseRefresh(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Refresh token is invalid or expired", nil)
			return
		}

		// Re-read the user so a role or email change takes effect on refresh.
		user, err := s.GetUser(r.Context(), claims.UserID)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Account no longer exists", nil)
			return
		}

		pair, err := tokens.Issue(user)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not issue tokens", nil)
			return
		}
		response.JSON(w, map[string]string{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
		})
	}
}

// NewMeHandler returns the handler for GET /auth/me.
func NewMeHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleware.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Not authenticated", nil)
			return
		}
		user, err := s.GetUser(r.Context(), id.UserID)
		if err != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Account no longer exists", nil)
			return
		}
		response.JSON(w, user)
	}
}

// NewLogoutHandler returns the handler for POST /auth/logout. Tokens are
// stateless, so this is a formality that lets clients drop credentials.
func NewLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]string{"message": "Logged out"})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
