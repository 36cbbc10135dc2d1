package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	errReplayed        = errors.New("replayed")
	errWrongClass      = errors.New("wrong token class")
	errSubjectMismatch = errors.New("subject mismatch")
	errUnknownSubject  = errors.New("unknown subject")
	errUndecodable     = errors.New("undecodable")
)

// Rotator exchanges a live refresh token for a new pair exactly once.
type Rotator struct {
	codec  *Codec
	ledger RevocationLedger
	issuer *SessionIssuer
}

// NewRotator wires a Rotator.
func NewRotator(codec *Codec, ledger RevocationLedger, issuer *SessionIssuer) (*Rotator, error) {
	if codec == nil || ledger == nil || issuer == nil {
		return nil, errors.New("auth: rotator requires codec, ledger and issuer")
	}
	return &Rotator{codec: codec, ledger: ledger, issuer: issuer}, nil
}

// Rotate validates refreshToken on behalf of caller, whose identity was
// established by a valid access token. Every rejection wraps
// ErrInvalidRefreshToken; ledger faults wrap ErrLedgerUnavailable.
//
// The ledger Consume call is the commit point: of any number of concurrent
// callers presenting the same token, at most one gets past it.
func (r *Rotator) Rotate(ctx context.Context, identities IdentityStore, refreshToken string, caller Identity) (TokenPair, error) {
	revoked, err := r.ledger.Contains(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if revoked {
		return TokenPair{}, rejectRefresh(errReplayed)
	}

	claims, err := r.codec.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, rejectRefresh(errUndecodable)
	}
	if claims.Class != ClassRefresh {
		return TokenPair{}, rejectRefresh(errWrongClass)
	}
	if caller.Handle == "" || claims.Subject != caller.Handle {
		return TokenPair{}, rejectRefresh(errSubjectMismatch)
	}

	identity, err := identities.FindByHandle(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, rejectRefresh(errUnknownSubject)
		}
		return TokenPair{}, err
	}
	if !identity.Active {
		return TokenPair{}, rejectRefresh(errUnknownSubject)
	}

	won, err := r.ledger.Consume(ctx, refreshToken, claims.ExpiresAt)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if !won {
		return TokenPair{}, rejectRefresh(errReplayed)
	}

	return r.issuer.IssueSession(identity, nil)
}

// Revoke records refreshToken as unusable. The token must belong to caller.
func (r *Rotator) Revoke(ctx context.Context, refreshToken string, caller Identity) error {
	claims, err := r.codec.Parse(refreshToken)
	if err != nil {
		return rejectRefresh(errUndecodable)
	}
	if claims.Class != ClassRefresh {
		return rejectRefresh(errWrongClass)
	}
	if caller.Handle == "" || claims.Subject != caller.Handle {
		return rejectRefresh(errSubjectMismatch)
	}
	if err := r.ledger.Add(ctx, refreshToken, claims.ExpiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return nil
}

func rejectRefresh(reason error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRefreshToken, reason)
}

// IsReplay reports whether err is a rejected reuse of a consumed token.
func IsReplay(err error) bool {
	return errors.Is(err, errReplayed)
}
