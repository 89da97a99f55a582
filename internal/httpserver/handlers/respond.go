package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

// LoginPath is where unauthenticated clients are sent.
const LoginPath = "/login"

type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP:
// unauthenticated => 401 with a login redirect, request failed => 502.
func writeError(w http.ResponseWriter, d deps.Deps, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Redirect: LoginPath})
	case errors.Is(err, domain.ErrRequestFailed):
		d.Logger.Warn("bookmark store request failed", logger.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		d.Logger.Error("request failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type bookmarkView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Link      string `json:"link"`
	CreatedAt string `json:"created_at"`
}

func viewOf(b domain.Bookmark) bookmarkView {
	return bookmarkView{
		ID:        b.ID,
		Title:     b.Title,
		URL:       b.URL,
		Link:      domain.Link(b.URL),
		CreatedAt: b.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

type listResponse struct {
	Loading   bool           `json:"loading"`
	Count     int            `json:"count"`
	Bookmarks []bookmarkView `json:"bookmarks"`
}

func listOf(loading bool, bookmarks []domain.Bookmark) listResponse {
	views := make([]bookmarkView, 0, len(bookmarks))
	for _, b := range bookmarks {
		views = append(views, viewOf(b))
	}
	return listResponse{Loading: loading, Count: len(views), Bookmarks: views}
}
