package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
)

// Server owns the HTTP surface and its dependencies.
type Server struct {
	httpServer *http.Server

	store     sessions.Store
	auth      *Auth
	views     *views
	accounts  AccountStore
	posts     PostStore
	blobs     BlobStorage
	health    HealthCheckers
	maxUpload int64
}

// New wires the session store, auth gate, views, and routes.
func New(cfg Config) *Server {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	store := NewSessionStore(cfg.Sessions, []byte(cfg.SessionSecret), ttl)
	auth := NewAuth(NewLocalStrategy(cfg.Accounts), cfg.Accounts, store)

	s := &Server{
		store:     store,
		auth:      auth,
		accounts:  cfg.Accounts,
		posts:     cfg.Posts,
		blobs:     cfg.Blobs,
		health:    cfg.Health,
		maxUpload: cfg.MaxUploadBytes,
	}
	s.views = newViews(auth, store)

	r := mux.NewRouter()

	mustLogin := auth.Check("/login")
	mustNotLogin := auth.CheckNot("/")

	r.HandleFunc("/", s.handleFeed).Methods(http.MethodGet)
	r.Handle("/account", mustLogin(http.HandlerFunc(s.handleAccount))).Methods(http.MethodGet)
	r.Handle("/post", mustLogin(http.HandlerFunc(s.handlePostList))).Methods(http.MethodGet)
	r.Handle("/post", mustLogin(http.HandlerFunc(s.handleCreatePost))).Methods(http.MethodPost)
	r.Handle("/register", mustNotLogin(http.HandlerFunc(s.handleRegisterForm))).Methods(http.MethodGet)
	r.Handle("/register", mustNotLogin(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/login", mustNotLogin(http.HandlerFunc(s.handleLoginForm))).Methods(http.MethodGet)
	r.Handle("/login", mustNotLogin(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/file/{key}", s.handleFileDownload).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Wrap middleware: requestID -> logging -> security headers -> router
	var handler http.Handler = r
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the full middleware chain for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
