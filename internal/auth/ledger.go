package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// TokenDigest returns the key under which a refresh token is recorded.
// Ledgers never store the raw token.
func TokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ RevocationLedger = (*MemoryLedger)(nil)

// MemoryLedger is a process-local RevocationLedger. Entries are dropped
// once the token they describe has expired.
type MemoryLedger struct {
	entries sync.Map // digest -> time.Time
	now     func() time.Time

	sweepMu   sync.Mutex
	lastSweep time.Time
}

const memoryLedgerSweepEvery = time.Minute

// NewMemoryLedger creates an empty ledger. now may be nil.
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{now: now}
}

func (l *MemoryLedger) Contains(_ context.Context, token string) (bool, error) {
	v, ok := l.entries.Load(TokenDigest(token))
	if !ok {
		return false, nil
	}
	if !l.now().Before(v.(time.Time)) {
		// The token can no longer parse, so forgetting it is safe.
		l.entries.CompareAndDelete(TokenDigest(token), v)
		return false, nil
	}
	return true, nil
}

func (l *MemoryLedger) Add(ctx context.Context, token string, expiresAt time.Time) error {
	_, err := l.Consume(ctx, token, expiresAt)
	return err
}

func (l *MemoryLedger) Consume(_ context.Context, token string, expiresAt time.Time) (bool, error) {
	l.maybeSweep()
	_, loaded := l.entries.LoadOrStore(TokenDigest(token), expiresAt)
	return !loaded, nil
}

// Len reports the number of tracked entries, expired or not.
func (l *MemoryLedger) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (l *MemoryLedger) maybeSweep() {
	now := l.now()
	l.sweepMu.Lock()
	if now.Sub(l.lastSweep) < memoryLedgerSweepEvery {
		l.sweepMu.Unlock()
		return
	}
	l.lastSweep = now
	l.sweepMu.Unlock()

	l.entries.Range(func(k, v any) bool {
		if !now.Before(v.(time.Time)) {
			l.entries.CompareAndDelete(k, v)
		}
		return true
	})
}
