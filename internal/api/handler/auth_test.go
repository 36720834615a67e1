package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elly-james/camision/internal/auth"
	"github.com/elly-james/camision/pkg/models"
)

func newTestTokens() *auth.Tokens {
	return auth.NewTokens("0123456789abcdef0123456789abcdef", time.Hour, 24*time.Hour)
}

func seedClient(t *testing.T, s *fakeStore, email, password string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := &models.User{Email: email, Name: "Test Client", Role: models.RoleClient, PasswordHash: hash}
	require.NoError(t, s.CreateUser(t.Context(), u))
	return u
}

func seedAdmin(t *testing.T, s *fakeStore) *models.User {
	t.Helper()
	hash, err := auth.HashPassword("adminpass123")
	require.NoError(t, err)
	u := &models.User{Email: "admin@camision.com", Name: "Admin", Role: models.RoleAdmin, PasswordHash: hash}
	require.NoError(t, s.CreateUser(t.Context(), u))
	return u
}

func TestRegister(t *testing.T) {
	s := newFakeStore()
	h := NewRegisterHandler(s, newTestTokens())

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"NEW@Example.com","name":"New","password":"longenough"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, models.RoleClient, resp.Role)
	assert.Equal(t, "new@example.com", resp.User.Email)
}

func TestRegister_Validation(t *testing.T) {
	s := newFakeStore()
	h := NewRegisterHandler(s, newTestTokens())

	cases := []struct {
		name string
		body string
	}{
		{"bad email", `{"email":"nope","password":"longenough"}`},
		{"short password", `{"email":"a@b.com","password":"short"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	s := newFakeStore()
	seedClient(t, s, "taken@example.com", "password1")
	h := NewRegisterHandler(s, newTestTokens())

	req := httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"taken@example.com","password":"password2"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMAIL_TAKEN")
}

func TestLogin(t *testing.T) {
	s := newFakeStore()
	seedClient(t, s, "c@example.com", "correct-horse")
	h := NewLoginHandler(s, newTestTokens())

	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"c@example.com","password":"correct-horse"}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, models.RoleClient, resp.Role)
}

func TestLogin_WrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	s := newFakeStore()
	seedClient(t, s, "c@example.com", "correct-horse")
	h := NewLoginHandler(s, newTestTokens())

	for _, body := range []string{
		`{"email":"c@example.com","password":"wrong"}`,
		`{"email":"ghost@example.com","password":"whatever"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_CREDENTIALS")
	}
}

func TestRefresh(t *testing.T) {
	s := newFakeStore()
	u := seedClient(t, s, "c@example.com", "correct-horse")
	tokens := newTestTokens()
	h := NewRefreshHandler(s, tokens)

	pair, err := tokens.Issue(u)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["access_token"])
	assert.NotEmpty(t, resp["refresh_token"])

	// The returned access token must actually parse.
	_, err = tokens.ParseAccess(resp["access_token"])
	assert.NoError(t, err)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	s := newFakeStore()
	u := seedClient(t, s, "c@example.com", "correct-horse")
	tokens := newTestTokens()
	h := NewRefreshHandler(s, tokens)

	pair, err := tokens.Issue(u)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
