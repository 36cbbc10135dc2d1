package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// absentIdentityHash is compared against when the handle is unknown so a
// miss costs the same bcrypt work as a wrong secret.
func absentIdentityHash() string {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("telemetra-absent-identity"), bcrypt.DefaultCost)
		if err == nil {
			dummyHash = string(h)
		}
	})
	return dummyHash
}

// VerifyCredentials resolves handle and checks secret against the stored
// hash. Unknown handle, wrong secret and inactive identity all return
// ErrInvalidCredentials. Store faults other than a miss are returned as is.
func VerifyCredentials(ctx context.Context, identities IdentityStore, handle, secret string) (Identity, error) {
	if handle == "" || secret == "" {
		_ = VerifyPassword(absentIdentityHash(), secret)
		return Identity{}, ErrInvalidCredentials
	}
	identity, err := identities.FindByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(absentIdentityHash(), secret)
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, err
	}
	if err := VerifyPassword(identity.PasswordHash, secret); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	if !identity.Active {
		return Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}
