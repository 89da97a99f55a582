package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/session"
)

// Login starts an OAuth sign-in and redirects to the provider.
// ?provider= picks the provider, ?next= the local page to land on afterwards.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := r.URL.Query().Get("provider")
		if provider == "" {
			provider = d.Provider
		}

		target, err := d.Sessions.SignInURL(r.Context(), provider, r.URL.Query().Get("next"))
		if err != nil {
			if errors.Is(err, session.ErrUnknownProvider) {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
				return
			}
			writeError(w, d, err)
			return
		}

		http.Redirect(w, r, target, http.StatusFound)
	}
}

// Callback completes the sign-in, sets the session cookie and redirects.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if reason := q.Get("error"); reason != "" {
			d.Logger.Info("sign-in cancelled by provider", logger.String("reason", reason))
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}

		token, identity, redirect, err := d.Sessions.Complete(r.Context(), q.Get("state"), q.Get("code"))
		if err != nil {
			if errors.Is(err, session.ErrInvalidState) {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Redirect: LoginPath})
				return
			}
			d.Logger.Warn("sign-in failed", logger.Error(err))
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "sign-in failed", Redirect: LoginPath})
			return
		}

		http.SetCookie(w, sessionCookie(d, token, int(d.SessionTTL.Seconds())))
		d.Logger.Debug("session cookie issued", logger.String("user_id", identity.ID))
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// Logout closes the session's view, ends the session and clears the cookie.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r, d)
		if token != "" {
			d.Views.Release(token)
			if err := d.Sessions.SignOut(r.Context(), token); err != nil {
				writeError(w, d, err)
				return
			}
		}

		http.SetCookie(w, sessionCookie(d, "", -1))
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	}
}

type meResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// Me returns the signed-in identity.
func Me(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok, err := d.Sessions.CurrentUser(r.Context(), sessionToken(r, d))
		if err != nil {
			writeError(w, d, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Redirect: LoginPath})
			return
		}
		writeJSON(w, http.StatusOK, meResponse{
			ID:       identity.ID,
			Email:    identity.Email,
			Name:     identity.Name,
			Provider: identity.Provider,
		})
	}
}

func sessionToken(r *http.Request, d deps.Deps) string {
	c, err := r.Cookie(d.SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func sessionCookie(d deps.Deps, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     d.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   d.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}
