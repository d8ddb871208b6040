// Package analysis is the entry point for everything done to a session's
// document: ingestion, risk scoring, questions, draft comparison and wiping.
// Every operation checks that the session is Active and refreshes its TTL.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/contractlens/internal/document"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/indexer"
	"github.com/seanblong/contractlens/internal/rag"
	"github.com/seanblong/contractlens/internal/redline"
	"github.com/seanblong/contractlens/internal/risk"
	"github.com/seanblong/contractlens/internal/rulebook"
	"github.com/seanblong/contractlens/internal/session"
	"github.com/seanblong/contractlens/pkg/models"
)

const answerSystemPrompt = "You are LegalSaathi, an Indian legal expert. " +
	"Answer the user's question ONLY based on the contract context provided. " +
	"If the answer is not in the context, say '" + rag.NotCovered + "' " +
	"\n\n%s\n\n" +
	"Cite specific clauses and Indian law sections where applicable. " +
	"Respond in %s. " +
	"Keep your answer clear, concise, and useful."

type Service struct {
	Sessions   *session.Manager
	Indexer    *indexer.Indexer
	Engine     *rag.Engine
	Scorer     *risk.Scorer
	Comparator *redline.Comparator
	Rulebook   *rulebook.Rulebook

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewService(
	sessions *session.Manager,
	ix *indexer.Indexer,
	engine *rag.Engine,
	scorer *risk.Scorer,
	cmp *redline.Comparator,
	rb *rulebook.Rulebook,
) *Service {
	return &Service{
		Sessions:   sessions,
		Indexer:    ix,
		Engine:     engine,
		Scorer:     scorer,
		Comparator: cmp,
		Rulebook:   rb,
		locks:      make(map[string]*sync.RWMutex),
	}
}

// IngestResult describes an ingested document.
type IngestResult struct {
	SessionID    string `json:"session_id"`
	Chunks       int    `json:"chunk_count"`
	Replaced     int    `json:"replaced,omitempty"`
	DocumentType string `json:"document_type"`
	Language     string `json:"language,omitempty"`
	Pages        int    `json:"pages,omitempty"`
}

// Upload is a raw document handed in by a client.
type Upload struct {
	Name string
	Kind string
	Data []byte
}

// lock returns the session's lock, creating it on first use.
func (s *Service) lock(sessionID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[sessionID] = l
	}
	return l
}

func (s *Service) forget(sessionID string) {
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

// acquire takes the session's lock and then refreshes the session, so a
// caller that queued behind Wipe sees the session gone instead of writing
// into it. The returned func releases the lock.
func (s *Service) acquire(ctx context.Context, sessionID string, write bool) (*models.Session, func(), error) {
	l := s.lock(sessionID)
	unlock := l.RUnlock
	if write {
		l.Lock()
		unlock = l.Unlock
	} else {
		l.RLock()
	}
	sess, err := s.Sessions.Touch(ctx, sessionID)
	if err != nil {
		unlock()
		if errors.Is(err, errs.ErrSessionGone) {
			s.forget(sessionID)
		}
		return nil, nil, err
	}
	return sess, unlock, nil
}

// Prune drops the locks of sessions that expired or were swept without
// going through Wipe. It reports how many were dropped.
func (s *Service) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.locks))
	for id := range s.locks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		alive, err := s.Sessions.Alive(ctx, id)
		if err != nil {
			return n, err
		}
		if !alive {
			s.forget(id)
			n++
		}
	}
	return n, nil
}

// Ingest indexes text for the session, replacing any earlier document.
// An empty documentType is detected from the text.
func (s *Service) Ingest(ctx context.Context, sessionID, text, documentType string) (IngestResult, error) {
	return s.ingest(ctx, sessionID, text, documentType, nil)
}

func (s *Service) ingest(ctx context.Context, sessionID, text, documentType string, up *Upload) (IngestResult, error) {
	if strings.TrimSpace(text) == "" {
		return IngestResult{}, fmt.Errorf("%w: document text is empty", errs.ErrValidation)
	}
	sess, unlock, err := s.acquire(ctx, sessionID, true)
	if err != nil {
		return IngestResult{}, err
	}
	defer unlock()

	if up != nil {
		if _, err := s.Sessions.Wiper.Files.Save(sessionID, up.Name, up.Data); err != nil {
			return IngestResult{}, err
		}
	}

	docType := s.documentType(documentType, text)
	res, err := s.Indexer.Ingest(ctx, sessionID, text)
	if err != nil {
		return IngestResult{}, err
	}
	if err := s.Sessions.SetDocumentType(ctx, sess, docType); err != nil {
		return IngestResult{}, fmt.Errorf("record document type: %w", err)
	}

	log.Info().Str("session_id", models.ShortID(sessionID)).
		Int("chunks", res.Chunks).
		Str("document_type", docType).
		Msg("ingest complete")
	return IngestResult{
		SessionID:    sessionID,
		Chunks:       res.Chunks,
		Replaced:     res.Replaced,
		DocumentType: docType,
	}, nil
}

// IngestUpload parses an uploaded document, keeps the original in the
// session's file area and ingests its text.
func (s *Service) IngestUpload(ctx context.Context, sessionID string, up Upload, documentType string) (IngestResult, error) {
	parsed, err := document.Parse(up.Data, up.Kind)
	if err != nil {
		return IngestResult{}, err
	}
	res, err := s.ingest(ctx, sessionID, parsed.Text, documentType, &up)
	if err != nil {
		return IngestResult{}, err
	}
	res.Language = parsed.Language
	res.Pages = parsed.PageCount
	return res, nil
}

func (s *Service) documentType(requested, text string) string {
	t := strings.ToLower(strings.TrimSpace(requested))
	if t != "" && s.Rulebook.Has(t) {
		return t
	}
	if t != "" {
		log.Debug().Str("document_type", t).Msg("unknown document type, detecting from text")
	}
	return s.Rulebook.DetectType(text)
}

// Score runs the risk analysis over the session's document and keeps the
// result for the rest of the session. An empty documentType uses the type
// recorded at ingestion.
func (s *Service) Score(ctx context.Context, sessionID, documentType, language string) (*models.AnalysisResult, error) {
	sess, unlock, err := s.acquire(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	docType, err := s.resolveType(ctx, sess, documentType)
	if err != nil {
		return nil, err
	}
	res, err := s.Scorer.Score(ctx, sessionID, docType, normalizeLanguage(language))
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.StoreAnalysis(ctx, sess, res); err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	return res, nil
}

// Answer responds to a question about the session's document, grounded in
// its passages and the statutes for its type.
func (s *Service) Answer(ctx context.Context, sessionID, question, language string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question is empty", errs.ErrValidation)
	}
	sess, unlock, err := s.acquire(ctx, sessionID, false)
	if err != nil {
		return "", err
	}
	defer unlock()

	docType, err := s.resolveType(ctx, sess, "")
	if err != nil {
		return "", err
	}
	system := fmt.Sprintf(answerSystemPrompt, s.Rulebook.StatuteContext(docType), languageName(normalizeLanguage(language)))
	return s.Engine.Query(ctx, rag.Request{
		SessionID: sessionID,
		Question:  question,
		System:    system,
	})
}

// Compare reports the legally significant differences between two drafts.
func (s *Service) Compare(ctx context.Context, a, b string) (*models.DiffReport, error) {
	if strings.TrimSpace(a) == "" && strings.TrimSpace(b) == "" {
		return nil, fmt.Errorf("%w: both drafts are empty", errs.ErrValidation)
	}
	return s.Comparator.Compare(ctx, a, b)
}

// Wipe destroys the session and everything it owns.
func (s *Service) Wipe(ctx context.Context, sessionID string) (models.WipeReport, error) {
	l := s.lock(sessionID)
	l.Lock()
	defer func() {
		l.Unlock()
		s.forget(sessionID)
	}()
	return s.Sessions.Invalidate(ctx, sessionID)
}

// Analysis returns a result stored by Score.
func (s *Service) Analysis(ctx context.Context, sessionID, analysisID string) (*models.AnalysisResult, error) {
	sess, unlock, err := s.acquire(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.Sessions.LoadAnalysis(ctx, sess, analysisID)
}

func (s *Service) resolveType(ctx context.Context, sess *models.Session, requested string) (string, error) {
	if t := strings.ToLower(strings.TrimSpace(requested)); t != "" {
		return t, nil
	}
	t, err := s.Sessions.DocumentType(ctx, sess)
	if err != nil {
		return "", fmt.Errorf("load document type: %w", err)
	}
	if t == "" {
		t = rulebook.General
	}
	return t, nil
}

func normalizeLanguage(lang string) string {
	switch l := strings.ToLower(strings.TrimSpace(lang)); l {
	case "hi", "ta":
		return l
	default:
		return "en"
	}
}

func languageName(lang string) string {
	switch lang {
	case "hi":
		return "Hindi"
	case "ta":
		return "Tamil"
	default:
		return "English"
	}
}
