package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrInvalidAccessToken  = errors.New("auth: invalid access token")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrForbidden           = errors.New("auth: forbidden")
	ErrNotFound            = errors.New("auth: not found")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrConflict            = errors.New("auth: conflict")

	// ErrDecode is returned by Codec.Parse; callers translate it into the
	// token error matching the operation.
	ErrDecode = errors.New("auth: token decode failed")

	ErrLedgerUnavailable = errors.New("auth: revocation ledger unavailable")
)
