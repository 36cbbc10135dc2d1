package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	minSigningKeyLen  = 32
)

// Observer receives the outcome of every authentication operation.
type Observer interface {
	AuthOutcome(operation, outcome string)
}

type nopObserver struct{}

func (nopObserver) AuthOutcome(string, string) {}

// Service composes credential verification, token issuance, rotation and
// the membership gate behind the operations exposed to transports.
type Service struct {
	store  Store
	ledger RevocationLedger
	now    func() time.Time

	signingKey []byte
	algorithm  string
	issuerName string
	accessTTL  time.Duration
	refreshTTL time.Duration

	codec   *Codec
	issuer  *SessionIssuer
	rotator *Rotator

	logger   *zap.Logger
	tracer   trace.Tracer
	observer Observer
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSigningKey sets the symmetric key used to sign and verify tokens.
func WithSigningKey(key string) ServiceOption {
	return func(s *Service) error {
		if len(key) < minSigningKeyLen {
			return fmt.Errorf("auth: signing key must be at least %d bytes", minSigningKeyLen)
		}
		s.signingKey = []byte(key)
		return nil
	}
}

// WithAlgorithm selects the HMAC signing algorithm (HS256, HS384, HS512).
func WithAlgorithm(alg string) ServiceOption {
	return func(s *Service) error {
		s.algorithm = strings.TrimSpace(alg)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuerName = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLedger replaces the default in-memory revocation ledger.
func WithLedger(l RevocationLedger) ServiceOption {
	return func(s *Service) error {
		if l == nil {
			return errors.New("auth: ledger is nil")
		}
		s.ledger = l
		return nil
	}
}

// WithLogger sets the logger used for authentication outcomes.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithObserver registers an outcome observer, typically metrics.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) error {
		if o != nil {
			s.observer = o
		}
		return nil
	}
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *Service) error {
		if t != nil {
			s.tracer = t
		}
		return nil
	}
}

// NewService constructs Service with optional configuration. A signing key
// is mandatory.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("telemetra.io/internal/auth"),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.signingKey) == 0 {
		return nil, errors.New("auth: signing key is required")
	}
	if svc.accessTTL >= svc.refreshTTL {
		return nil, errors.New("auth: access ttl must be shorter than refresh ttl")
	}
	if svc.ledger == nil {
		svc.ledger = NewMemoryLedger(svc.now)
	}

	var err error
	if svc.codec, err = NewCodec(svc.signingKey, svc.algorithm, svc.issuerName, svc.now); err != nil {
		return nil, err
	}
	if svc.issuer, err = NewSessionIssuer(svc.codec, svc.accessTTL, svc.refreshTTL); err != nil {
		return nil, err
	}
	if svc.rotator, err = NewRotator(svc.codec, svc.ledger, svc.issuer); err != nil {
		return nil, err
	}
	return svc, nil
}

// Codec exposes the token codec, mainly for tests and tooling.
func (s *Service) Codec() *Codec { return s.codec }

// withHandle runs fn inside one unit of work. The handle is released on
// every path; fn commits explicitly when it writes.
func (s *Service) withHandle(ctx context.Context, fn func(Handle) error) error {
	h, err := s.store.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("auth: acquire store: %w", err)
	}
	defer h.Release()
	return fn(h)
}

// Login verifies credentials and issues a new session.
func (s *Service) Login(ctx context.Context, handle, secret string) (pair TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, "login", handle, err) }()

	err = s.withHandle(ctx, func(h Handle) error {
		identity, err := VerifyCredentials(ctx, h.Identities(), handle, secret)
		if err != nil {
			return err
		}
		pair, err = s.issuer.IssueSession(identity, nil)
		return err
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// AuthorizeRequest resolves the identity behind an access token.
func (s *Service) AuthorizeRequest(ctx context.Context, accessToken string) (identity Identity, err error) {
	claims, err := s.codec.Parse(accessToken)
	if err != nil || claims.Class != ClassAccess {
		s.observer.AuthOutcome("authorize", outcomeRejected)
		return Identity{}, ErrInvalidAccessToken
	}
	err = s.withHandle(ctx, func(h Handle) error {
		found, err := h.Identities().FindByHandle(ctx, claims.Subject)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidAccessToken
		}
		if err != nil {
			return err
		}
		if !found.Active {
			return ErrInvalidAccessToken
		}
		identity = found
		return nil
	})
	if err != nil {
		s.observer.AuthOutcome("authorize", classify(err))
		return Identity{}, err
	}
	s.observer.AuthOutcome("authorize", outcomeOK)
	identity.PasswordHash = ""
	return identity, nil
}

// Refresh rotates refreshToken for caller, who must already be
// authenticated by an access token carrying the same subject.
func (s *Service) Refresh(ctx context.Context, refreshToken string, caller Identity) (pair TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { s.finish(span, "refresh", caller.Handle, err) }()

	err = s.withHandle(ctx, func(h Handle) error {
		var err error
		pair, err = s.rotator.Rotate(ctx, h.Identities(), refreshToken, caller)
		return err
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Revoke invalidates a refresh token owned by caller.
func (s *Service) Revoke(ctx context.Context, refreshToken string, caller Identity) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Revoke")
	defer func() { s.finish(span, "revoke", caller.Handle, err) }()

	return s.rotator.Revoke(ctx, refreshToken, caller)
}

// Register creates a new identity inside req.CompanyID. actor must be an
// admin of that company.
func (s *Service) Register(ctx context.Context, req RegisterRequest, actor Identity) (created Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, "register", actor.Handle, err) }()

	err = s.withHandle(ctx, func(h Handle) error {
		ok, err := NewGate(h).AuthorizeAdminRegistration(ctx, actor, req.CompanyID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}
		if err := validateNewIdentity(req.Handle, req.Name, req.Secret); err != nil {
			return err
		}
		if !req.Role.Valid() {
			return fmt.Errorf("%w: role must be admin or user", ErrInvalidInput)
		}
		hash, err := HashPassword(req.Secret)
		if err != nil {
			return err
		}
		identity := Identity{Handle: req.Handle, Name: strings.TrimSpace(req.Name), PasswordHash: hash, Active: true}
		if err := h.Identities().Create(ctx, &identity); err != nil {
			return err
		}
		membership := Membership{IdentityID: identity.ID, CompanyID: req.CompanyID, Role: req.Role}
		if err := h.Memberships().Create(ctx, &membership); err != nil {
			return err
		}
		if err := h.Commit(); err != nil {
			return err
		}
		created = identity
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	created.PasswordHash = ""
	return created, nil
}

// FoundCompany creates a company, its founding admin identity and the
// admin membership in one unit of work.
func (s *Service) FoundCompany(ctx context.Context, req FoundCompanyRequest) (company Company, admin Identity, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.FoundCompany")
	defer func() { s.finish(span, "found_company", req.AdminHandle, err) }()

	if strings.TrimSpace(req.Name) == "" {
		return Company{}, Identity{}, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	if err := validateNewIdentity(req.AdminHandle, req.AdminName, req.AdminSecret); err != nil {
		return Company{}, Identity{}, err
	}
	hash, err := HashPassword(req.AdminSecret)
	if err != nil {
		return Company{}, Identity{}, err
	}

	err = s.withHandle(ctx, func(h Handle) error {
		c := Company{Name: strings.TrimSpace(req.Name), Address: strings.TrimSpace(req.Address)}
		if err := h.Companies().Create(ctx, &c); err != nil {
			return err
		}
		identity := Identity{Handle: req.AdminHandle, Name: strings.TrimSpace(req.AdminName), PasswordHash: hash, Active: true}
		if err := h.Identities().Create(ctx, &identity); err != nil {
			return err
		}
		m := Membership{IdentityID: identity.ID, CompanyID: c.ID, Role: RoleAdmin}
		if err := h.Memberships().Create(ctx, &m); err != nil {
			return err
		}
		if err := h.Companies().SetAdmin(ctx, c.ID, identity.ID); err != nil {
			return err
		}
		if err := h.Commit(); err != nil {
			return err
		}
		c.AdminIdentityID = identity.ID
		company, admin = c, identity
		return nil
	})
	if err != nil {
		return Company{}, Identity{}, err
	}
	admin.PasswordHash = ""
	return company, admin, nil
}

// Memberships lists the memberships held by identity.
func (s *Service) Memberships(ctx context.Context, identity Identity) (out []Membership, err error) {
	err = s.withHandle(ctx, func(h Handle) error {
		out, err = h.Memberships().ListByIdentity(ctx, identity.ID)
		return err
	})
	return out, err
}

func validateNewIdentity(handle, name, secret string) error {
	switch {
	case handle == "" || handle != strings.TrimSpace(handle):
		return fmt.Errorf("%w: email is required and must not contain surrounding spaces", ErrInvalidInput)
	case !strings.Contains(handle, "@"):
		return fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case len(secret) < 8:
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	return nil
}

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeReplayed = "replayed"
	outcomeDenied   = "denied"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
)

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case IsReplay(err):
		return outcomeReplayed
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidAccessToken),
		errors.Is(err, ErrInvalidRefreshToken):
		return outcomeRejected
	case errors.Is(err, ErrForbidden):
		return outcomeDenied
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return outcomeInvalid
	default:
		return outcomeError
	}
}

// finish records the outcome of operation. Only the failure kind and a
// non-reversible reference to the handle are logged.
func (s *Service) finish(span trace.Span, operation, handle string, err error) {
	outcome := classify(err)
	s.observer.AuthOutcome(operation, outcome)
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("outcome", outcome),
		zap.String("identity_ref", IdentityRef(handle)),
	}
	switch outcome {
	case outcomeOK:
		span.SetStatus(codes.Ok, "")
		s.logger.Info("auth operation", fields...)
	case outcomeError:
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.Error("auth operation", append(fields, zap.Error(err))...)
	default:
		span.SetStatus(codes.Error, outcome)
		s.logger.Warn("auth operation", append(fields, zap.String("reason", err.Error()))...)
	}
	span.End()
}

// IdentityRef returns a short, non-reversible reference to handle suitable
// for logs.
func IdentityRef(handle string) string {
	if handle == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(handle))
	return hex.EncodeToString(sum[:6])
}
