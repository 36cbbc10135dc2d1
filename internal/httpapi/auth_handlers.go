package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"telemetra.io/internal/auth"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	CompanyID int64  `json:"company_id"`
	Role      string `json:"role"`
}

type meResponse struct {
	Identity    auth.Identity     `json:"identity"`
	Memberships []auth.Membership `json:"memberships"`
}

// Token exchanges credentials for a token pair. Both the OAuth2 password
// form and a JSON body are accepted.
func (a *API) Token(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r, a.opts.MaxBodyBytes)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, err := a.svc.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			logAudit(r, "auth.login.failed", map[string]any{"identity_ref": auth.IdentityRef(creds.Username)})
		}
		writeServiceError(w, r, err)
		return
	}
	logAudit(r, "auth.login.succeeded", map[string]any{"identity_ref": auth.IdentityRef(creds.Username)})
	writeJSON(w, http.StatusOK, pair)
}

func readCredentials(r *http.Request, maxMemory int64) (credentialsRequest, error) {
	var creds credentialsRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return creds, errors.New("invalid form body")
		}
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return creds, errors.New("invalid form body")
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
	default:
		if err := decodeJSON(r, &creds); err != nil {
			return creds, err
		}
	}
	if creds.Username == "" || creds.Password == "" {
		return creds, errors.New("username and password are required")
	}
	return creds, nil
}

// RefreshToken rotates the refresh token of the authenticated caller.
func (a *API) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken, currentIdentity(r))
	if err != nil {
		fields := map[string]any{"replay": auth.IsReplay(err)}
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			logAudit(r, "auth.refresh.failed", fields)
		}
		writeServiceError(w, r, err)
		return
	}
	logAudit(r, "auth.refresh.succeeded", nil)
	writeJSON(w, http.StatusOK, pair)
}

// Logout revokes the supplied refresh token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := a.svc.Revoke(r.Context(), req.RefreshToken, currentIdentity(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	logAudit(r, "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

// Register lets a company admin create a new identity in that company.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser.String()
	}
	// An unknown role stays zero and is rejected by the service after the
	// admin check.
	role, _ := auth.ParseRole(req.Role)
	created, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Handle:    req.Email,
		Name:      req.Name,
		Secret:    req.Password,
		CompanyID: req.CompanyID,
		Role:      role,
	}, currentIdentity(r))
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			logAudit(r, "auth.register.denied", map[string]any{"company_id": req.CompanyID})
		}
		writeServiceError(w, r, err)
		return
	}
	logAudit(r, "auth.register.succeeded", map[string]any{
		"company_id":  req.CompanyID,
		"created_id":  created.ID,
		"created_ref": auth.IdentityRef(created.Handle),
		"role":        role.String(),
	})
	writeJSON(w, http.StatusCreated, created)
}

// Me returns the caller and their memberships.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	identity := currentIdentity(r)
	memberships, err := a.svc.Memberships(r.Context(), identity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []auth.Membership{}
	}
	writeJSON(w, http.StatusOK, meResponse{Identity: identity, Memberships: memberships})
}
