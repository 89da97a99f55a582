package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/utils"
)

// IdentityProvider is an external OAuth identity provider.
type IdentityProvider interface {
	// Name is the provider key used in sign-in URLs (ex: "google").
	Name() string
	// AuthCodeURL is where the browser is sent to sign in.
	AuthCodeURL(state string) string
	// Identify exchanges an authorization code for the signed-in identity.
	Identify(ctx context.Context, code string) (domain.Identity, error)
}

// OAuthProvider implements IdentityProvider with the authorization code flow
// and an OpenID Connect userinfo endpoint.
type OAuthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
}

// ProviderOptions configures an OAuthProvider.
type ProviderOptions struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UserInfoURL  string
	Endpoint     oauth2.Endpoint // zero value => resolved from Name
}

// NewOAuthProvider builds a provider. Only "google" has a built-in endpoint.
func NewOAuthProvider(opts ProviderOptions) (*OAuthProvider, error) {
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" {
		switch opts.Name {
		case "google":
			endpoint = endpoints.Google
		default:
			return nil, fmt.Errorf("unsupported identity provider %q", opts.Name)
		}
	}

	return &OAuthProvider{
		name: opts.Name,
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: opts.UserInfoURL,
	}, nil
}

func (p *OAuthProvider) Name() string { return p.name }

func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type userInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func (p *OAuthProvider) Identify(ctx context.Context, code string) (domain.Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, http.NoBody)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to create userinfo request: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Identity{}, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return domain.Identity{}, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	if info.Subject == "" {
		return domain.Identity{}, fmt.Errorf("userinfo without subject")
	}

	return domain.Identity{
		ID:       p.name + ":" + info.Subject,
		Email:    info.Email,
		Name:     info.Name,
		Provider: p.name,
	}, nil
}
