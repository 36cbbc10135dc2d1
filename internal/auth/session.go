package auth

import (
	"errors"
	"time"
)

// TokenPair is an access/refresh pair handed to a client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SessionIssuer mints token pairs bound to an identity handle.
type SessionIssuer struct {
	codec      *Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewSessionIssuer wires an issuer to codec with independent lifetimes.
func NewSessionIssuer(codec *Codec, accessTTL, refreshTTL time.Duration) (*SessionIssuer, error) {
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	return &SessionIssuer{codec: codec, accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// IssueSession returns a fresh pair whose subject is identity.Handle. The
// display name travels in the access token only.
func (s *SessionIssuer) IssueSession(identity Identity, extra map[string]any) (TokenPair, error) {
	accessExtra := map[string]any{"name": identity.Name}
	for k, v := range extra {
		accessExtra[k] = v
	}
	access, accessExp, err := s.codec.Issue(identity.Handle, ClassAccess, s.accessTTL, accessExtra)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.Issue(identity.Handle, ClassRefresh, s.refreshTTL, nil)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
