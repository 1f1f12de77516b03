package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
	"github.com/raterudder/fleetproxy/pkg/storage"
	"github.com/raterudder/fleetproxy/pkg/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Gateway is the local API surface the server exposes.
type Gateway interface {
	Poll(ctx context.Context, path string, opts localapi.PollOptions) (any, error)
	Post(ctx context.Context, path string, payload map[string]any, deviceID string) (any, error)
	Sites(ctx context.Context) ([]types.SiteSummary, error)
	ChangeSite(ctx context.Context, id int64) error
	Site() (types.SiteSummary, bool)
}

var _ Gateway = (*localapi.Gateway)(nil)

// tokenVerifier validates an ID token and returns its verified email.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server serves the local API over HTTP, backed by the FleetAPI.
type Server struct {
	gateway  Gateway
	storage  storage.Database
	gatherer prometheus.Gatherer

	listenAddr string
	httpServer *http.Server
	serverName string

	adminEmails []string
	verifier    tokenVerifier
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration. s and g may
// be nil to disable /fleet/actions and /metrics. The gateway is passed to Run
// since it can only be built once flags are parsed.
func Configured(s storage.Database, g prometheus.Gatherer) *Server {
	srv := &Server{
		storage:    s,
		gatherer:   g,
		serverName: "fleetproxy",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// pypowerwall proxy port
		port = "8675"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to write (requires --oidc-audience)")
	oidcAudience := lflag.String("oidc-audience", "", "Google client ID to validate id tokens against, empty disables auth on writes")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = emailVerifier(provider.Verifier(&oidc.Config{ClientID: *oidcAudience}))
			if len(srv.adminEmails) == 0 {
				log.Ctx(context.Background()).Error("--oidc-audience requires --admin-emails")
				os.Exit(1)
			}
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/", s.handlePoll)
	mux.HandleFunc("GET /vitals", s.handlePoll)
	mux.Handle("POST /api/", s.authMiddleware(http.HandlerFunc(s.handlePost)))

	mux.HandleFunc("GET /fleet/sites", s.handleListSites)
	mux.Handle("POST /fleet/site", s.authMiddleware(http.HandlerFunc(s.handleChangeSite)))
	if s.storage != nil {
		mux.HandleFunc("GET /fleet/actions", s.handleHistoryActions)
	}

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(s.requestIDMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux))))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, gw Gateway) error {
	s.gateway = gw
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// writeGatewayError maps gateway errors to status codes.
func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, localapi.ErrInvalidPayload), errors.Is(err, localapi.ErrInvalidSiteID):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, localapi.ErrSiteNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, localapi.ErrNotConnected), errors.Is(err, localapi.ErrNoSites):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		writeJSONError(w, "fleetapi request failed", http.StatusBadGateway)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.gateway.Site(); !ok {
		writeJSONError(w, localapi.ErrNotConnected.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
