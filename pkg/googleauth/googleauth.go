package googleauth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

// ErrNotConfigured is returned when no OAuth client ID has been configured.
var ErrNotConfigured = errors.New("google sign-in is not configured")

// Identity is the verified subject of an external identity token.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	Picture       string
}

// TokenVerifier validates an identity token issued by an external provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Verifier validates Google ID tokens against the configured OAuth client ID.
// Audience, issuer, signature, and expiry checks are delegated to the Google
// idtoken validator.
type Verifier struct {
	clientID string
}

// NewVerifier creates a verifier for the given OAuth client ID. An empty
// client ID produces a verifier that always reports ErrNotConfigured.
func NewVerifier(clientID string) *Verifier {
	return &Verifier{clientID: clientID}
}

// Verify validates the token and extracts the subject's identity claims.
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if v.clientID == "" {
		return nil, ErrNotConfigured
	}

	payload, err := idtoken.Validate(ctx, token, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("invalid identity token: %w", err)
	}

	identity := &Identity{Subject: payload.Subject}
	if email, ok := payload.Claims["email"].(string); ok {
		identity.Email = email
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok {
		identity.EmailVerified = verified
	}
	if given, ok := payload.Claims["given_name"].(string); ok {
		identity.FirstName = given
	}
	if family, ok := payload.Claims["family_name"].(string); ok {
		identity.LastName = family
	}
	if picture, ok := payload.Claims["picture"].(string); ok {
		identity.Picture = picture
	}

	return identity, nil
}
