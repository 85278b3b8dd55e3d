// Package idempotency remembers the response to a settlement request so that
// a client retrying with the same Idempotency-Key gets the original answer
// instead of paying twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a response is kept for replay.
const DefaultTTL = 24 * time.Hour

// PendingTTL bounds how long a reservation survives a process that died
// before completing or releasing it.
const PendingTTL = time.Minute

var (
	// ErrConflict is returned when a key is reused for a different request.
	ErrConflict = errors.New("idempotency: key reused with a different request")
	// ErrInProgress is returned while another request holds the key.
	ErrInProgress = errors.New("idempotency: request with this key is in progress")
)

// Record is a stored response, or a reservation while Pending.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store keeps records by key.
type Store interface {
	// Get returns the record stored under key, if any.
	Get(ctx context.Context, key string) (Record, bool, error)
	// Reserve stores a pending record for fingerprint unless key already
	// holds a record, which it returns instead.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Record, bool, error)
	// Put stores rec under key, replacing a reservation.
	Put(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Release drops the reservation under key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// Key scopes a client-supplied key to the caller so two callers cannot
// collide.
func Key(caller, clientKey string) string {
	return strings.ToLower(caller) + ":" + strings.TrimSpace(clientKey)
}

// Fingerprint identifies a request by route and body.
func Fingerprint(route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims key for the request identified by fingerprint. It returns
// replay=true with the stored response when the request already completed,
// ErrConflict when the key belongs to a different request and ErrInProgress
// while the same request is still running. With replay=false and no error
// the caller owns the key and must Put or Release it.
func Begin(ctx context.Context, s Store, key, fingerprint string) (Record, bool, error) {
	existing, reserved, err := s.Reserve(ctx, key, fingerprint, PendingTTL)
	if err != nil || reserved {
		return Record{}, false, err
	}
	switch {
	case existing.Fingerprint != fingerprint:
		return Record{}, false, ErrConflict
	case existing.Pending:
		return Record{}, false, ErrInProgress
	}
	return existing, true, nil
}

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryEntry
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, records: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.records, key)
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

func (m *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (Record, bool, error) {
	if ttl <= 0 {
		ttl = PendingTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.records[key]; ok && now.Before(e.expires) {
		return e.rec, false, nil
	}
	m.records[key] = memoryEntry{rec: Record{Fingerprint: fingerprint, Pending: true}, expires: now.Add(ttl)}
	return Record{}, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryEntry{rec: rec, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.records[key]; ok && e.rec.Pending {
		delete(m.records, key)
	}
	return nil
}
