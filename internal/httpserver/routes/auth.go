package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/mw"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Get("/login", handlers.Login(d))
		r.Get("/auth/callback", handlers.Callback(d))
		r.Post("/logout", handlers.Logout(d))
		r.Get("/api/me", handlers.Me(d))
	})
}
