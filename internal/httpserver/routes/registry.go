package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg       Registrar
	mws       []Middleware
	streaming bool
}

var registry []entry

// Register a registrar with optional per-route middlewares.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// RegisterStream registers long-lived routes that must not get the request timeout.
func RegisterStream(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws, streaming: true})
}

// Called once from server.New()
func RegisterAll(r chi.Router, d deps.Deps) {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for _, e := range registry {
		sub := r
		if !e.streaming {
			sub = sub.With(middleware.Timeout(timeout))
		}
		if len(e.mws) > 0 {
			sub = sub.With(e.mws...) // apply per-route middlewares
		}
		e.reg(sub, d)
	}
}
