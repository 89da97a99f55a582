package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
	"github.com/MrSnakeDoc/smartmarks/internal/sources/homepage"
)

const maxBodySize = 64 << 10

type bookmarkInput struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// engineFor returns the session's engine, writing the error response itself on failure.
func engineFor(w http.ResponseWriter, r *http.Request, d deps.Deps) (*reconcile.Engine, bool) {
	e, err := d.Views.Acquire(r.Context(), sessionToken(r, d))
	if err != nil {
		writeError(w, d, err)
		return nil, false
	}
	return e, true
}

func decodeInput(w http.ResponseWriter, r *http.Request) (bookmarkInput, bool) {
	var in bookmarkInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return in, false
	}
	in.Title = strings.TrimSpace(in.Title)
	in.URL = strings.TrimSpace(in.URL)
	return in, true
}

// ListBookmarks returns the session's list, optionally filtered with ?q=.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}

		list := e.Snapshot()
		if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
			list = domain.FilterBookmarks(q, list)
		}
		writeJSON(w, http.StatusOK, listOf(e.Loading(), list))
	}
}

// CreateBookmark adds a bookmark. An empty title or url is a no-op (204).
func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}
		in, ok := decodeInput(w, r)
		if !ok {
			return
		}

		created, added, err := e.Add(r.Context(), in.Title, in.URL)
		if err != nil {
			writeError(w, d, err)
			return
		}
		if !added {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		d.Logger.Info("bookmark created",
			logger.String("owner", e.Owner().ID),
			logger.String("id", created.ID))
		writeJSON(w, http.StatusCreated, viewOf(created))
	}
}

// UpdateBookmark changes a bookmark's title and url.
func UpdateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}
		in, ok := decodeInput(w, r)
		if !ok {
			return
		}
		if in.Title == "" || in.URL == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "title and url are required"})
			return
		}

		updated, err := e.Update(r.Context(), chi.URLParam(r, "id"), in.Title, in.URL)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "bookmark not found"})
				return
			}
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(updated))
	}
}

// DeleteBookmark removes a bookmark. The list drops it before the store answers.
// An id the store does not know answers 404.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}

		id := chi.URLParam(r, "id")
		if err := e.Delete(r.Context(), id); err != nil {
			// The list was already refetched from the store either way.
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "bookmark not found"})
				return
			}
			writeError(w, d, err)
			return
		}

		d.Logger.Info("bookmark deleted",
			logger.String("owner", e.Owner().ID),
			logger.String("id", id))
		w.WriteHeader(http.StatusNoContent)
	}
}

// RefreshBookmarks replaces the list with a full fetch.
func RefreshBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}
		if err := e.Refresh(r.Context()); err != nil {
			writeError(w, d, err)
			return
		}
		writeJSON(w, http.StatusOK, listOf(e.Loading(), e.Snapshot()))
	}
}

type importResponse struct {
	homepage.Result
	Error string `json:"error,omitempty"`
}

// ImportBookmarks adds every entry of a Homepage bookmarks.yaml body.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := engineFor(w, r, d)
		if !ok {
			return
		}

		config, err := homepage.Read(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		res, err := homepage.Import(r.Context(), e, config)
		if err != nil {
			d.Logger.Warn("bookmark import stopped", logger.Error(err),
				logger.Int("imported", res.Imported))
			writeJSON(w, http.StatusBadGateway, importResponse{Result: res, Error: err.Error()})
			return
		}

		d.Logger.Info("bookmarks imported",
			logger.String("owner", e.Owner().ID),
			logger.Int("imported", res.Imported),
			logger.Int("skipped", res.Skipped))
		writeJSON(w, http.StatusOK, importResponse{Result: res})
	}
}
