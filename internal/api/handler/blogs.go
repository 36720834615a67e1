package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/store"
)

// NewListBlogsHandler returns the handler for GET /api/blogs. Public.
func NewListBlogsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blogs, err := s.ListBlogs(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not list blogs", nil)
			return
		}
		response.JSON(w, blogs)
	}
}

// NewGetBlogHandler returns the handler for GET /api/blogs/{id}. Public.
func NewGetBlogHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid blog id", nil)
			return
		}

		blog, err := s.GetBlog(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Blog not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not load blog", nil)
			return
		}
		response.JSON(w, blog)
	}
}
