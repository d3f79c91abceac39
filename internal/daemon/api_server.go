package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"storyloom/internal/api"
	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/sequence"
	"storyloom/internal/store"
)

type statusProvider interface {
	Status(ctx context.Context) api.DaemonStatus
}

type apiServer struct {
	bind    string
	logger  *slog.Logger
	status  statusProvider
	books   *api.BookService
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when no bind address is configured. artifactRoot,
// when set, is served under /artifacts/.
func newAPIServer(cfg *config.Config, status statusProvider, books *api.BookService, artifactRoot string, logger *slog.Logger) *apiServer {
	if cfg == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger.With(logging.String(logging.FieldComponent, "api-server")),
		status: status,
		books:  books,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/books", authMiddleware(token, srv.handleBooks))
	mux.HandleFunc("/api/books/", authMiddleware(token, srv.handleBook))
	if artifactRoot != "" {
		files := http.StripPrefix("/artifacts/", http.FileServer(http.Dir(artifactRoot)))
		mux.HandleFunc("/artifacts/", authMiddleware(token, files.ServeHTTP))
	}
	srv.handler = mux
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

func (s *apiServer) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []store.BookStatus
	for _, value := range r.URL.Query()["status"] {
		status, ok := store.ParseBookStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown book status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	books, err := s.books.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if books == nil {
		books = []api.Book{}
	}
	s.writeJSON(w, http.StatusOK, api.BookListResponse{Books: books})
}

// handleBook serves /api/books/{id} and /api/books/{id}/sequences.
func (s *apiServer) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/books/"), "/")
	idStr, tail, _ := strings.Cut(rest, "/")
	if idStr == "" || (tail != "" && tail != "sequences") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	if tail == "sequences" {
		s.handleSequences(w, r, id)
		return
	}
	book, err := s.books.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if book == nil {
		s.writeError(w, http.StatusNotFound, "book not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.BookResponse{Book: *book})
}

func (s *apiServer) handleSequences(w http.ResponseWriter, r *http.Request, bookID int64) {
	var statuses []sequence.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := sequence.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown sequence status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	seqs, err := s.books.Sequences(r.Context(), bookID, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if seqs == nil {
		s.writeError(w, http.StatusNotFound, "book not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.SequenceListResponse{BookID: bookID, Sequences: seqs})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
