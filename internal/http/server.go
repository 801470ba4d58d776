package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chimeradb/pkg/config"
	"chimeradb/pkg/db"
	"chimeradb/pkg/dberrors"
	"chimeradb/pkg/engine"
	"chimeradb/pkg/types"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5

	// bodySlack lets an oversized value reach the engine, which reports the
	// exact size, instead of being cut off by the body limit.
	bodySlack = 1 << 10
)

type iDatabase interface {
	Engine(kind types.Kind) (engine.Engine, error)
	Health() db.Health
}

type iDocumentEngine interface {
	GetDocument(collection, key string) (map[string]any, error)
}

// Server exposes the engines over HTTP.
type Server struct {
	db         iDatabase
	cfg        config.ServerConfig
	maxBody    int64
	logger     *slog.Logger
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance. maxValue bounds request bodies.
func NewServer(database iDatabase, cfg config.ServerConfig, maxValue int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	port := strconv.Itoa(cfg.Port)
	return &Server{
		db:      database,
		cfg:     cfg,
		maxBody: maxValue + bodySlack,
		logger:  logger.With("component", "http"),
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	readHeader := time.Duration(s.cfg.ReadHeaderTimeoutSec) * time.Second
	if readHeader <= 0 {
		readHeader = time.Second
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeader,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	s.logger.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := time.Duration(s.cfg.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Route("/api/{kind}", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/collections", s.handleCollections)
		r.Post("/_snapshot", s.handleSnapshot)
		r.Delete("/{collection}", s.handleDrop)
		r.Post("/{collection}/_query", s.handleQuery)
		r.Put("/{collection}/{key}", s.handlePut)
		r.Get("/{collection}/{key}", s.handleGet)
		r.Delete("/{collection}/{key}", s.handleDelete)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dberrors.ErrInvalidKey), errors.Is(err, dberrors.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, dberrors.ErrValueTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dberrors.ErrKeyNotFound), errors.Is(err, db.ErrUnknownEngine):
		return http.StatusNotFound
	case errors.Is(err, dberrors.ErrNotReady), errors.Is(err, dberrors.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, dberrors.ErrQueryNotSupported), errors.Is(err, dberrors.ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) engine(r *http.Request) (engine.Engine, error) {
	kind, err := types.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", db.ErrUnknownEngine, err)
	}
	return s.db.Engine(kind)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dberrors.ValueTooLarge(int(tooLarge.Limit)+1, int(s.maxBody-bodySlack))
		}
		return nil, dberrors.InvalidValue("failed to read body: %v", err)
	}
	return body, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.db.Health()
	if h.Status != "ok" {
		s.writeJSON(w, http.StatusServiceUnavailable, Response{Status: StatusError, Data: h})
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusOK, Data: h})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(e.Stats()))
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !e.Ready() {
		s.writeError(w, r, dberrors.ErrNotReady)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(e.Collections()))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := e.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(map[string]string{"snapshot": id.String()}))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := e.Put(chi.URLParam(r, "collection"), chi.URLParam(r, "key"), body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collection, key := chi.URLParam(r, "collection"), chi.URLParam(r, "key")

	if docs, ok := e.(iDocumentEngine); ok {
		doc, err := docs.GetDocument(collection, key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, NewDataResponse(doc))
		return
	}

	value, err := e.Get(collection, key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(value))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.Delete(chi.URLParam(r, "collection"), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.DropCollection(chi.URLParam(r, "collection")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	e, err := s.engine(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter, err := engine.DecodeFilter(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	seq, err := e.Query(chi.URLParam(r, "collection"), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	results := []engine.Record{}
	for rec, err := range seq {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		results = append(results, rec)
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(results))
}
