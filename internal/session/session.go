// Package session manages the lifetime of anonymous analysis sessions and
// everything they own.
//
// A session is Active until its TTL elapses (Expired, observed lazily on the
// next access) and ends Wiped. Wipes happen through exactly one function,
// Wiper.Wipe, whichever of explicit invalidation, lazy expiry or the
// periodic sweep triggers them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/kv"
	"github.com/seanblong/contractlens/pkg/models"
)

const keyPrefix = "session:"

// ErrAnalysisNotFound is returned when a session holds no analysis with the
// requested id.
var ErrAnalysisNotFound = errors.New("analysis not found")

func recordKey(id string) string        { return keyPrefix + id }
func analysisKey(id, aid string) string { return keyPrefix + id + ":analysis:" + aid }
func doctypeKey(id string) string       { return keyPrefix + id + ":doctype" }

// dependentPattern matches every key owned by the session other than its
// record. Ids holding glob characters get no pattern.
func dependentPattern(id string) (string, bool) {
	if strings.ContainsAny(id, "*?") {
		return "", false
	}
	return keyPrefix + id + ":*", true
}

// ownerOf extracts the session id from any session key.
func ownerOf(key string) string {
	id := strings.TrimPrefix(key, keyPrefix)
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[:i]
	}
	return id
}

type Manager struct {
	KV    kv.Store
	Wiper *Wiper
	TTL   time.Duration
	now   func() time.Time
}

func NewManager(store kv.Store, w *Wiper, ttl time.Duration) *Manager {
	return &Manager{KV: store, Wiper: w, TTL: ttl, now: time.Now}
}

// Create starts a new Active session with a fresh isolation key.
func (m *Manager) Create(ctx context.Context) (*models.Session, error) {
	key, err := newIsolationKey()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s := &models.Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.TTL),
		IsolationKey: key,
	}
	if err := m.put(ctx, s); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", models.ShortID(s.ID)).Time("expires_at", s.ExpiresAt).Msg("session created")
	return s, nil
}

// Get returns the Active session with id. A session whose record is gone or
// whose TTL has elapsed is wiped and reported as errs.ErrSessionGone.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: unknown session", errs.ErrSessionGone)
	}
	s, err := m.load(ctx, id)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}
	if s != nil && m.now().Before(s.ExpiresAt) {
		return s, nil
	}
	if _, err := m.Wiper.Wipe(ctx, id); err != nil {
		log.Warn().Err(err).Str("session_id", models.ShortID(id)).Msg("expired session wipe failed")
	}
	return nil, fmt.Errorf("%w: session expired", errs.ErrSessionGone)
}

// Touch extends the session and every key it owns by a full TTL.
func (m *Manager) Touch(ctx context.Context, id string) (*models.Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.ExpiresAt = m.now().UTC().Add(m.TTL)
	if err := m.put(ctx, s); err != nil {
		return nil, err
	}
	pattern, _ := dependentPattern(id)
	keys, err := m.KV.Keys(ctx, pattern)
	if err != nil {
		return nil, fmt.Errorf("list session keys: %w", err)
	}
	for _, k := range keys {
		if _, err := m.KV.Expire(ctx, k, m.TTL); err != nil {
			return nil, fmt.Errorf("refresh %s: %w", k, err)
		}
	}
	return s, nil
}

// Invalidate wipes the session on request. Unknown sessions are a no-op.
func (m *Manager) Invalidate(ctx context.Context, id string) (models.WipeReport, error) {
	return m.Wiper.Wipe(ctx, id)
}

// Alive reports whether id has an unexpired record. It never wipes.
func (m *Manager) Alive(ctx context.Context, id string) (bool, error) {
	s, err := m.load(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.now().Before(s.ExpiresAt), nil
}

// StoreAnalysis persists res under the session, sealed with the session's
// isolation key, for the rest of the session's lifetime.
func (m *Manager) StoreAnalysis(ctx context.Context, s *models.Session, res *models.AnalysisResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	key := analysisKey(s.ID, res.AnalysisID)
	sealed, err := seal(s.IsolationKey, b, []byte(key))
	if err != nil {
		return fmt.Errorf("seal analysis: %w", err)
	}
	return m.KV.Set(ctx, key, sealed, m.remaining(s))
}

func (m *Manager) LoadAnalysis(ctx context.Context, s *models.Session, analysisID string) (*models.AnalysisResult, error) {
	key := analysisKey(s.ID, analysisID)
	sealed, err := m.KV.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrAnalysisNotFound
	}
	if err != nil {
		return nil, err
	}
	b, err := open(s.IsolationKey, sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("open analysis: %w", err)
	}
	var res models.AnalysisResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &res, nil
}

func (m *Manager) SetDocumentType(ctx context.Context, s *models.Session, docType string) error {
	return m.KV.Set(ctx, doctypeKey(s.ID), []byte(docType), m.remaining(s))
}

// DocumentType returns the type recorded at ingestion, or "" if none was.
func (m *Manager) DocumentType(ctx context.Context, s *models.Session) (string, error) {
	b, err := m.KV.Get(ctx, doctypeKey(s.ID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *Manager) remaining(s *models.Session) time.Duration {
	d := s.ExpiresAt.Sub(m.now())
	if d <= 0 {
		// keys must never outlive their session
		d = time.Millisecond
	}
	return d
}

func (m *Manager) put(ctx context.Context, s *models.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.KV.Set(ctx, recordKey(s.ID), b, m.TTL); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*models.Session, error) {
	b, err := m.KV.Get(ctx, recordKey(id))
	if err != nil {
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
