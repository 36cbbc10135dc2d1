package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"telemetra.io/internal/audit"
	"telemetra.io/internal/auth"
	"telemetra.io/internal/obs"
)

const bearerChallenge = `Bearer realm="telemetra"`

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", bearerChallenge)
	}
	writeJSON(w, code, errorResponse{
		Error:     msg,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// writeServiceError maps auth sentinels onto status codes. Anything
// unrecognised is logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "incorrect username or password")
	case errors.Is(err, auth.ErrInvalidAccessToken):
		writeError(w, r, http.StatusUnauthorized, "could not validate credentials")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, inputMessage(err))
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", audit.RequestIDFromContext(r.Context())),
			zap.String("path", obs.CanonicalPath(r.URL.Path)),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// inputMessage strips everything up to and including the invalid-input
// sentinel so clients see only the field-level reason.
func inputMessage(err error) string {
	msg := err.Error()
	prefix := auth.ErrInvalidInput.Error()
	if i := strings.Index(msg, prefix); i >= 0 {
		msg = strings.TrimPrefix(msg[i+len(prefix):], ": ")
	}
	if msg == "" {
		return "invalid input"
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		default:
			return fmt.Errorf("invalid json: %w", err)
		}
	}
	if dec.More() {
		return errors.New("request body must contain a single json object")
	}
	return nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func parseID(raw, name string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// readPage validates limit/offset the way listings expect them: limit in
// 1..100 when given and non-empty, offset non-negative.
func readPage(r *http.Request) (auth.Page, error) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		return auth.Page{}, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return auth.Page{}, err
	}
	given := strings.TrimSpace(r.URL.Query().Get("limit")) != ""
	if given && (limit < 1 || limit > auth.MaxPageLimit) {
		return auth.Page{}, fmt.Errorf("limit must be between 1 and %d", auth.MaxPageLimit)
	}
	if offset < 0 {
		return auth.Page{}, errors.New("offset must be non-negative")
	}
	return auth.NormalizePage(auth.Page{Limit: limit, Offset: offset}), nil
}

func logAudit(r *http.Request, event string, fields map[string]any) {
	if err := audit.LogEvent(r.Context(), event, fields); err != nil {
		obs.Logger().Warn("audit log failed", zap.String("event", event), zap.Error(err))
	}
}
