package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
)

type componentStatus struct {
	OK         bool   `json:"ok"`
	OpenViews  *int   `json:"open_views,omitempty"`
	LastResync string `json:"last_resync,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Impact     string `json:"impact,omitempty"`
	Error      string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		openViews := d.Views.Count()
		lastResync := "never"
		if d.LastResync != nil {
			if t := d.LastResync(); !t.IsZero() {
				lastResync = t.Format("2006-01-02 15:04:05")
			}
		}

		components := map[string]componentStatus{
			"redis": checkRedis(r.Context(), d),
			"views": {
				OK:         true,
				OpenViews:  &openViews,
				LastResync: lastResync,
			},
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	// Store, change-feed and sessions all live in redis
	if redis, exists := components["redis"]; exists && !redis.OK {
		return "down"
	}
	return "operational"
}

func checkRedis(parent context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     false,
			Impact: "bookmarks-unavailable",
			Error:  "client not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Impact: "bookmarks-unavailable",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:   true,
		Mode: "optimal",
	}
}
