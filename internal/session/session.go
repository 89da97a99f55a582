// Package session is the identity side of the app: OAuth sign-in, session tokens
// persisted in Redis, current-user lookup and sign-out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

const (
	// KeyPrefixSession is the prefix for session token keys
	KeyPrefixSession = "smartmarks:session:"
	// KeyPrefixState is the prefix for pending OAuth sign-in attempts
	KeyPrefixState = "smartmarks:oauth_state:"
)

var (
	// ErrUnknownProvider is returned for a provider name that is not configured.
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrInvalidState is returned when a callback carries an unknown or expired state.
	ErrInvalidState = errors.New("invalid or expired sign-in state")
)

// Options configures a Manager.
type Options struct {
	SessionTTL time.Duration
	StateTTL   time.Duration
}

// Manager issues and resolves session tokens.
type Manager struct {
	client    *redis.Client
	providers map[string]IdentityProvider
	opts      Options
	logger    logger.Logger
}

// NewManager creates a session manager for the given providers.
func NewManager(client *redis.Client, opts Options, log logger.Logger, providers ...IdentityProvider) *Manager {
	m := &Manager{
		client:    client,
		providers: make(map[string]IdentityProvider, len(providers)),
		opts:      opts,
		logger:    log,
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

type pendingSignIn struct {
	Provider string `json:"provider"`
	Redirect string `json:"redirect"`
}

// SignInURL starts a sign-in with provider and returns the URL to send the browser to.
// redirectTarget is where the user lands after the callback; anything but a local path becomes "/".
func (m *Manager) SignInURL(ctx context.Context, provider, redirectTarget string) (string, error) {
	p, ok := m.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	state := uuid.NewString()
	data, err := json.Marshal(pendingSignIn{Provider: provider, Redirect: LocalPath(redirectTarget)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign-in state: %w", err)
	}
	if err := m.client.Set(ctx, KeyPrefixState+state, data, m.opts.StateTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to save sign-in state: %w", err)
	}

	return p.AuthCodeURL(state), nil
}

// Complete finishes a sign-in: the state is consumed, the code exchanged, and a session created.
// It returns the session token, the identity and the local path to land on.
func (m *Manager) Complete(ctx context.Context, state, code string) (string, domain.Identity, string, error) {
	if state == "" || code == "" {
		return "", domain.Identity{}, "", ErrInvalidState
	}

	data, err := m.client.GetDel(ctx, KeyPrefixState+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.Identity{}, "", ErrInvalidState
		}
		return "", domain.Identity{}, "", fmt.Errorf("failed to load sign-in state: %w", err)
	}

	var pending pendingSignIn
	if err := json.Unmarshal(data, &pending); err != nil {
		return "", domain.Identity{}, "", fmt.Errorf("failed to unmarshal sign-in state: %w", err)
	}

	p, ok := m.providers[pending.Provider]
	if !ok {
		return "", domain.Identity{}, "", fmt.Errorf("%w: %s", ErrUnknownProvider, pending.Provider)
	}

	identity, err := p.Identify(ctx, code)
	if err != nil {
		return "", domain.Identity{}, "", err
	}

	token, err := m.Create(ctx, identity)
	if err != nil {
		return "", domain.Identity{}, "", err
	}

	m.logger.Info("user signed in",
		logger.String("user_id", identity.ID),
		logger.String("provider", identity.Provider))

	return token, identity, pending.Redirect, nil
}

// Create stores a new session for identity and returns its token.
func (m *Manager) Create(ctx context.Context, identity domain.Identity) (string, error) {
	data, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal identity: %w", err)
	}

	token := uuid.NewString()
	if err := m.client.Set(ctx, KeyPrefixSession+token, data, m.opts.SessionTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return token, nil
}

// CurrentUser resolves a session token. ok is false when there is no valid session.
func (m *Manager) CurrentUser(ctx context.Context, token string) (domain.Identity, bool, error) {
	if token == "" {
		return domain.Identity{}, false, nil
	}

	data, err := m.client.Get(ctx, KeyPrefixSession+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, fmt.Errorf("failed to load session: %w", err)
	}

	var identity domain.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return domain.Identity{}, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return identity, true, nil
}

// SignOut ends a session. Unknown tokens are not an error.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.client.Del(ctx, KeyPrefixSession+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// LocalPath keeps target only if it is a path on this site.
func LocalPath(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	return target
}
