package domain

// Identity is the authenticated user behind a session.
type Identity struct {
	// ID is the stable subject identifier issued by the provider,
	// namespaced with the provider name (ex: "google:1234").
	ID string `json:"id"`

	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}
