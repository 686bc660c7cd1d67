package domain

// ProviderTokenResponse models the identity provider's token endpoint
// response. The provider payload is treated as opaque JSON beyond the
// fields the vault needs.
type ProviderTokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	Scope        string
	SessionState string
	Raw          map[string]any
}

// Introspection is the normalized result of a provider introspection call.
type Introspection struct {
	Active       bool
	Subject      string
	SessionState string
	Scope        string
	ClientID     string
	Username     string
	ExpiresAt    int64
	IssuedAt     int64
}
