package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubIdentityStore struct {
	findByHandleFn func(context.Context, string) (Identity, error)
}

func (s *stubIdentityStore) FindByHandle(ctx context.Context, handle string) (Identity, error) {
	if s.findByHandleFn != nil {
		return s.findByHandleFn(ctx, handle)
	}
	return Identity{}, ErrNotFound
}

func (s *stubIdentityStore) Find(context.Context, int64) (Identity, error) {
	return Identity{}, ErrNotFound
}

func (s *stubIdentityStore) Create(context.Context, *Identity) error {
	return errors.New("not supported")
}

func identitiesOf(list ...Identity) *stubIdentityStore {
	return &stubIdentityStore{
		findByHandleFn: func(_ context.Context, handle string) (Identity, error) {
			for _, id := range list {
				if id.Handle == handle {
					return id, nil
				}
			}
			return Identity{}, ErrNotFound
		},
	}
}

type rotatorFixture struct {
	clock   *testClock
	codec   *Codec
	ledger  *MemoryLedger
	issuer  *SessionIssuer
	rotator *Rotator
}

func newRotatorFixture(t *testing.T) *rotatorFixture {
	t.Helper()
	clock := newTestClock()
	codec := newTestCodec(t, clock)
	ledger := NewMemoryLedger(clock.Now)
	issuer, err := NewSessionIssuer(codec, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	rotator, err := NewRotator(codec, ledger, issuer)
	if err != nil {
		t.Fatalf("rotator: %v", err)
	}
	return &rotatorFixture{clock: clock, codec: codec, ledger: ledger, issuer: issuer, rotator: rotator}
}

var alice = Identity{ID: 1, Handle: "alice@example.com", Name: "Alice", Active: true}

func TestRotateChain(t *testing.T) {
	f := newRotatorFixture(t)
	ctx := context.Background()
	ids := identitiesOf(alice)

	first, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := f.rotator.Rotate(ctx, ids, first.RefreshToken, alice)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	for i := 0; i < 3; i++ {
		_, err := f.rotator.Rotate(ctx, ids, first.RefreshToken, alice)
		if !errors.Is(err, ErrInvalidRefreshToken) || !IsReplay(err) {
			t.Fatalf("attempt %d: expected replay rejection, got %v", i, err)
		}
	}

	if _, err := f.rotator.Rotate(ctx, ids, second.RefreshToken, alice); err != nil {
		t.Fatalf("rotating the new token should succeed once: %v", err)
	}
	if _, err := f.rotator.Rotate(ctx, ids, second.RefreshToken, alice); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("second use of new token must fail, got %v", err)
	}
}

func TestRotateConcurrentSameToken(t *testing.T) {
	f := newRotatorFixture(t)
	ids := identitiesOf(alice)

	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		failures  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.rotator.Rotate(context.Background(), ids, pair.RefreshToken, alice)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrInvalidRefreshToken):
				failures.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || failures.Load() != 31 {
		t.Fatalf("expected 1 success and 31 failures, got %d/%d", successes.Load(), failures.Load())
	}
}

func TestRotateRejections(t *testing.T) {
	f := newRotatorFixture(t)
	ctx := context.Background()
	bob := Identity{ID: 2, Handle: "bob@example.com", Name: "Bob", Active: true}
	ids := identitiesOf(alice, bob)

	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		token  string
		caller Identity
		ids    IdentityStore
	}{
		{name: "garbage", token: "nope", caller: alice, ids: ids},
		{name: "access token presented", token: pair.AccessToken, caller: alice, ids: ids},
		{name: "subject mismatch", token: pair.RefreshToken, caller: bob, ids: ids},
		{name: "anonymous caller", token: pair.RefreshToken, caller: Identity{}, ids: ids},
		{name: "identity gone", token: pair.RefreshToken, caller: alice, ids: identitiesOf(bob)},
		{name: "identity inactive", token: pair.RefreshToken, caller: alice, ids: identitiesOf(Identity{ID: 1, Handle: alice.Handle})},
	}
	for _, tc := range cases {
		_, err := f.rotator.Rotate(ctx, tc.ids, tc.token, tc.caller)
		if !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("%s: expected invalid refresh token, got %v", tc.name, err)
		}
	}

	// None of the rejections above consumed the token.
	if _, err := f.rotator.Rotate(ctx, ids, pair.RefreshToken, alice); err != nil {
		t.Fatalf("token should still rotate after rejected attempts: %v", err)
	}
}

func TestRotateExpiredToken(t *testing.T) {
	f := newRotatorFixture(t)
	ids := identitiesOf(alice)

	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.clock.Advance(24 * time.Hour)
	if _, err := f.rotator.Rotate(context.Background(), ids, pair.RefreshToken, alice); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token rejected, got %v", err)
	}
}

func TestRotateStoreFaultIsNotAuthFailure(t *testing.T) {
	f := newRotatorFixture(t)
	boom := errors.New("connection reset")
	ids := &stubIdentityStore{
		findByHandleFn: func(context.Context, string) (Identity, error) { return Identity{}, boom },
	}
	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = f.rotator.Rotate(context.Background(), ids, pair.RefreshToken, alice)
	if !errors.Is(err, boom) || errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected store fault to propagate, got %v", err)
	}
}

func TestRevokePreventsRotation(t *testing.T) {
	f := newRotatorFixture(t)
	ctx := context.Background()
	ids := identitiesOf(alice)

	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	bob := Identity{ID: 2, Handle: "bob@example.com", Active: true}
	if err := f.rotator.Revoke(ctx, pair.RefreshToken, bob); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("revoking someone else's token must fail, got %v", err)
	}
	if err := f.rotator.Revoke(ctx, pair.RefreshToken, alice); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := f.rotator.Rotate(ctx, ids, pair.RefreshToken, alice); !IsReplay(err) {
		t.Fatalf("expected revoked token to be rejected as replay, got %v", err)
	}
}

func TestSessionIssuerClaims(t *testing.T) {
	f := newRotatorFixture(t)
	pair, err := f.issuer.IssueSession(alice, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	access, err := f.codec.Parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	refresh, err := f.codec.Parse(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if access.Subject != alice.Handle || refresh.Subject != alice.Handle {
		t.Fatalf("unexpected subjects %q/%q", access.Subject, refresh.Subject)
	}
	if access.Class != ClassAccess || refresh.Class != ClassRefresh {
		t.Fatalf("unexpected classes %s/%s", access.Class, refresh.Class)
	}
	if access.Name != "Alice" || refresh.Name != "" {
		t.Fatalf("display name must travel in the access token only: %q/%q", access.Name, refresh.Name)
	}
	if !pair.AccessExpiresAt.Before(pair.RefreshExpiresAt) {
		t.Fatal("access token must expire before refresh token")
	}
	if pair.TokenType != "bearer" {
		t.Fatalf("unexpected token type %q", pair.TokenType)
	}
}
