package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/contractlens/internal/analysis"
	"github.com/seanblong/contractlens/internal/auth"
	"github.com/seanblong/contractlens/internal/errs"
	"github.com/seanblong/contractlens/internal/session"
	"github.com/seanblong/contractlens/pkg/models"
)

const (
	maxBodyBytes = 10 << 20
	// analysis fans out to many inference calls
	analyzeTimeout = 10 * time.Minute
	requestTimeout = 3 * time.Minute
)

type server struct {
	svc    *analysis.Service
	issuer *auth.Issuer
}

func newRouter(svc *analysis.Service, issuer *auth.Issuer) *mux.Router {
	s := &server{svc: svc, issuer: issuer}

	r := mux.NewRouter()
	r.Use(limitBody)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) }).Methods(http.MethodGet)
	r.HandleFunc("/session", s.createSession).Methods(http.MethodPost)

	authed := r.NewRoute().Subrouter()
	authed.Use(issuer.Middleware, s.refresh)
	authed.HandleFunc("/session", s.deleteSession).Methods(http.MethodDelete)
	authed.HandleFunc("/ingest", s.ingest).Methods(http.MethodPost)
	authed.HandleFunc("/analyze", s.analyze).Methods(http.MethodPost)
	authed.HandleFunc("/analyses/{id}", s.getAnalysis).Methods(http.MethodGet)
	authed.HandleFunc("/query", s.query).Methods(http.MethodPost)
	authed.HandleFunc("/compare", s.compare).Methods(http.MethodPost)
	return r
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Token     string    `json:"token"`
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Sessions.Create(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.issuer.Issue(sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	auth.SetCookie(w, r, token, sess.ExpiresAt)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, ExpiresAt: sess.ExpiresAt, Token: token})
}

// refresh extends the session on every authenticated request and reissues
// its token so the token never expires before the session does.
func (s *server) refresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.svc.Sessions.Touch(r.Context(), auth.SessionID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.issuer.Refresh(w, r, sess); err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type wipeResponse struct {
	models.WipeReport
	Wiped   bool   `json:"wiped"`
	Message string `json:"message"`
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Wipe(r.Context(), auth.SessionID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	auth.ClearCookie(w)
	writeJSON(w, http.StatusOK, wipeResponse{
		WipeReport: rep,
		Wiped:      true,
		Message:    "Your data has been permanently deleted.",
	})
}

type ingestRequest struct {
	Text         string `json:"text"`
	DocumentType string `json:"document_type"`
	Language     string `json:"language"`
}

// readDocument accepts either a JSON body with text or a multipart upload
// in the "file" field.
func (s *server) readDocument(ctx context.Context, r *http.Request) (analysis.IngestResult, ingestRequest, error) {
	id := auth.SessionID(ctx)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req := ingestRequest{
			DocumentType: r.FormValue("document_type"),
			Language:     r.FormValue("language"),
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return analysis.IngestResult{}, req, badRequest("file is required")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return analysis.IngestResult{}, req, badRequest("read upload")
		}
		kind := hdr.Header.Get("Content-Type")
		if kind == "" || kind == "application/octet-stream" {
			kind = "text/plain"
		}
		res, err := s.svc.IngestUpload(ctx, id, analysis.Upload{Name: hdr.Filename, Kind: kind, Data: data}, req.DocumentType)
		return res, req, err
	}

	var req ingestRequest
	if err := decode(r, &req); err != nil {
		return analysis.IngestResult{}, req, err
	}
	res, err := s.svc.Ingest(ctx, id, req.Text, req.DocumentType)
	return res, req, err
}

func (s *server) ingest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, _, err := s.readDocument(ctx, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type analyzeRequest struct {
	Text         string `json:"text"`
	DocumentType string `json:"document_type"`
	Language     string `json:"language"`
}

// analyze scores the session's document. A body carrying text or a file
// ingests it first.
func (s *server) analyze(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
	defer cancel()
	id := auth.SessionID(ctx)

	var docType, lang string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		ing, req, err := s.readDocument(ctx, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		docType, lang = ing.DocumentType, req.Language
	} else {
		var req analyzeRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		docType, lang = req.DocumentType, req.Language
		if strings.TrimSpace(req.Text) != "" {
			ing, err := s.svc.Ingest(ctx, id, req.Text, req.DocumentType)
			if err != nil {
				writeError(w, r, err)
				return
			}
			docType = ing.DocumentType
		}
	}

	res, err := s.svc.Score(ctx, id, docType, lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("session_id", models.ShortID(id)).Int("score", res.RiskScore).Int64("time_ms", res.ProcessingTimeMS).Msg("analysis served")
	writeJSON(w, http.StatusOK, res)
}

func (s *server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Analysis(r.Context(), auth.SessionID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type queryRequest struct {
	Question string `json:"question"`
	Language string `json:"language"`
}

type queryResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := auth.SessionID(ctx)
	answer, err := s.svc.Answer(ctx, id, req.Question, req.Language)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer, SessionID: id})
}

type compareRequest struct {
	DraftA string `json:"draft_a"`
	DraftB string `json:"draft_b"`
}

func (s *server) compare(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), analyzeTimeout)
	defer cancel()

	var req compareRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.svc.Compare(ctx, req.DraftA, req.DraftB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", errs.ErrValidation, msg)
}

func decode(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAnalysisNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrSessionGone):
		return http.StatusGone
	case errors.Is(err, errs.ErrUpstreamAuth), errors.Is(err, errs.ErrParse):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	} else {
		hlog.FromRequest(r).Warn().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", 500)
	}
}

// limitBody caps request bodies at maxBodyBytes.
func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
