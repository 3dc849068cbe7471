// Package api exposes the onboarding intake over HTTP.
//
// Clients start or resume an intake, submit one answer per request, poll
// progress, and ask for generated sample answers while testing. Staff list and
// read stored intakes under /clients. Responses use the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Server defaults.
const (
	DefaultAddr              = ":8080"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds one turn, including semantic checks and checkpoint retries.
	DefaultRequestTimeout = 30 * time.Second
	maxBodyBytes          = 1 << 20
)

// IntakeEngine is the conversation surface the server drives.
type IntakeEngine interface {
	Start(ctx context.Context, tenantID, subjectHint string) (*models.StartSessionResponse, error)
	Submit(ctx context.Context, sessionID, raw, messageID string) (*models.TurnResponse, error)
	Status(ctx context.Context, sessionID string) (*models.StatusResponse, error)
	CurrentQuestion(ctx context.Context, sessionID string) (models.QuestionSpec, *models.ConversationState, error)
	Catalog() *catalog.Catalog
}

// ExternalIDRecorder stores the CRM identifier reported by the sync callback.
type ExternalIDRecorder interface {
	RecordExternalID(ctx context.Context, subjectID, externalID string, at time.Time) error
}

// Server is the HTTP front of the intake engine.
type Server struct {
	engine      IntakeEngine
	answers     *genai.AnswerGenerator
	recorder    ExternalIDRecorder
	records     ClientRecords
	backend     string
	metrics     http.Handler
	corsOrigins []string
	addr        string
	validate    *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithCORSOrigins sets the allowed origins. "*" allows any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithAnswerGenerator enables the generate-answer endpoint.
func WithAnswerGenerator(g *genai.AnswerGenerator) Option {
	return func(s *Server) { s.answers = g }
}

// WithExternalIDRecorder enables the CRM sync callback.
func WithExternalIDRecorder(r ExternalIDRecorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithBackend names the store backend reported by /health.
func WithBackend(name string) Option {
	return func(s *Server) { s.backend = name }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer creates a server for engine.
func NewServer(engine IntakeEngine, opts ...Option) *Server {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Server{
		engine:      engine,
		answers:     genai.NewAnswerGenerator(nil),
		corsOrigins: []string{"*"},
		addr:        DefaultAddr,
		validate:    v,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /onboarding/start", s.startHandler)
	mux.HandleFunc("POST /onboarding/message", s.messageHandler)
	mux.HandleFunc("GET /onboarding/status/{session_id}", s.statusHandler)
	mux.HandleFunc("POST /onboarding/generate-answer", s.generateAnswerHandler)
	mux.HandleFunc("POST /webhooks/crm-sync-complete", s.crmSyncCompleteHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.records != nil {
		mux.HandleFunc("GET /clients", s.listClientsHandler)
		mux.HandleFunc("GET /clients/{subject_id}", s.getClientHandler)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.cors(mux)
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			if slices.Contains(s.corsOrigins, "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
