package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bookreader/backends"
	"bookreader/config"
	"bookreader/dialog"
	"bookreader/dispatch"
	"bookreader/document"
	"bookreader/middleware"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Book is what the reader shows.
type Book struct {
	Title    string
	Document *document.Document
	// ExtractDir holds the unpacked book; empty when there is none.
	ExtractDir string
	// BaseHref is where relative links in the content resolve, under /book/.
	BaseHref string
}

// Server is the local reader surface. The document is owned by its loop;
// handlers reach it only through Loop.Call.
type Server struct {
	cfg        *config.Config
	book       Book
	loop       *dispatch.Loop
	dispatcher *dispatch.Dispatcher
	inserter   *document.Inserter
	factories  []backends.Factory
	sessions   *middleware.Sessions
	notes      *Notifications
	log        zerolog.Logger

	mu      sync.Mutex
	dialogs map[string]*dialog.Session
}

// New wires a server around book. Nothing runs until Run.
func New(cfg *config.Config, book Book, factories []backends.Factory, log zerolog.Logger) *Server {
	log = log.With().Str("component", "server").Logger()
	loop := dispatch.NewLoop(64)
	return &Server{
		cfg:  cfg,
		book: book,
		loop: loop,
		dispatcher: dispatch.New(loop, dispatch.Options{
			Workers:  1,
			Timeout:  cfg.Generation.Timeout,
			Interval: cfg.Generation.Interval,
		}, log),
		inserter:  document.NewInserter(book.Document, cfg.Illustration.MaxSize, cfg.Illustration.Downsample, log),
		factories: factories,
		sessions:  middleware.NewSessions(cfg, log),
		notes:     NewNotifications(100),
		log:       log,
		dialogs:   make(map[string]*dialog.Session),
	}
}

// Handler returns the HTTP routes of the reader.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.Handle("GET /metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("GET /{$}", s.handleIndex)
	protected.HandleFunc("GET /images/{id}", s.handleImage)
	if s.book.ExtractDir != "" {
		protected.Handle("GET /book/", http.StripPrefix("/book/", http.FileServer(http.Dir(s.book.ExtractDir))))
	}
	protected.HandleFunc("GET /api/blocks", s.handleBlocks)
	protected.HandleFunc("GET /api/backends", s.handleBackends)
	protected.HandleFunc("POST /api/dialog", s.handleOpenDialog)
	protected.HandleFunc("DELETE /api/dialog", s.handleCloseDialog)
	protected.HandleFunc("POST /api/dialog/backend", s.handleSelectBackend)
	protected.HandleFunc("POST /api/dialog/params", s.handleSetParams)
	protected.HandleFunc("POST /api/dialog/confirm", s.handleConfirm)
	protected.HandleFunc("POST /api/undo", s.handleUndo)
	protected.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.Handle("/", s.sessions.WebAuth(protected))

	return mux
}

// Run serves on the configured address and runs the document loop until ctx
// is done. Jobs still in flight are waited for before it returns.
func (s *Server) Run(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop.Run(loopCtx)
	}()

	srv := &http.Server{
		Addr:              s.cfg.Settings.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("starting reader")
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			err = fmt.Errorf("shutdown: %w", serr)
		}
	}

	s.dispatcher.Wait()
	s.loop.Close()
	<-loopDone
	stopLoop()
	return err
}

func (s *Server) dialogFor(w http.ResponseWriter, r *http.Request) (*dialog.Session, bool) {
	id, ok := s.sessions.DialogID(w, r, false)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dialogs[id]
	return d, ok
}
