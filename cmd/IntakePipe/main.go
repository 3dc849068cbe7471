package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/IntakePipe/internal/api"
	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/crm"
	"github.com/BTreeMap/IntakePipe/internal/flow"
	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/handoff"
	"github.com/BTreeMap/IntakePipe/internal/lockfile"
	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/notify"
	"github.com/BTreeMap/IntakePipe/internal/scheduler"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/util"
	"github.com/BTreeMap/IntakePipe/internal/validate"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakePipe state data
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "intakepipe.db"
	// DefaultOutboxPollInterval is how often the outbox sender looks for due hand-offs
	DefaultOutboxPollInterval = 5 * time.Second
	// DefaultSemanticTimeout bounds one semantic interpretation call
	DefaultSemanticTimeout = 8 * time.Second
)

func main() {
	// Debug until the configured level is known
	initializeLogger(slog.LevelDebug)

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	level, err := parseLogLevel(flags.logLevel)
	if err != nil {
		slog.Error("Invalid log level", "error", err)
		os.Exit(2)
	}
	initializeLogger(level)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakePipe", "addr", flags.addr, "dsn_set", flags.dbDSN != "", "catalog", flags.catalogPath)
	if err := run(ctx, flags); err != nil {
		slog.Error("IntakePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	Addr               string
	DatabaseDSN        string
	StateDir           string
	CatalogPath        string
	OpenAIKey          string
	OpenAIModel        string
	OpenAITemperature  float64
	SemanticTimeout    time.Duration
	DuplicateWindow    time.Duration
	SkipPhrases        string
	GHLAPIKey          string
	GHLLocationID      string
	GHLWorkflowID      string
	GHLAPIURL          string
	CompletionWebhook  string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	StaffNotifyNumber  string
	SessionIdleTTL     time.Duration
	MaintenanceCron    string
	OutboxPollInterval time.Duration
	RedriveLookback    time.Duration
	LogLevel           string
	CORSOrigins        string
}

// Flags holds the resolved configuration after command line overrides
type Flags struct {
	addr               string
	stateDir           string
	dbDSN              string
	catalogPath        string
	openaiKey          string
	openaiModel        string
	openaiTemperature  float64
	semanticTimeout    time.Duration
	duplicateWindow    time.Duration
	skipPhrases        string
	ghlAPIKey          string
	ghlLocationID      string
	ghlWorkflowID      string
	ghlAPIURL          string
	completionWebhook  string
	twilioAccountSID   string
	twilioAuthToken    string
	twilioFromNumber   string
	staffNotifyNumber  string
	sessionIdleTTL     time.Duration
	maintenanceCron    string
	outboxPollInterval time.Duration
	redriveLookback    time.Duration
	logLevel           string
	corsOrigins        string
}

// initializeLogger sets up structured logging on stderr at level
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelDebug, fmt.Errorf("unknown log level %q: %w", s, err)
	}
	return level, nil
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Addr:               util.GetEnv("INTAKEPIPE_ADDR", api.DefaultAddr),
		DatabaseDSN:        util.GetEnv("DATABASE_DSN", os.Getenv("DATABASE_URL")),
		StateDir:           util.GetEnv("INTAKEPIPE_STATE_DIR", DefaultStateDir),
		CatalogPath:        os.Getenv("INTAKEPIPE_CATALOG"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		OpenAITemperature:  util.ParseFloatEnv("OPENAI_TEMPERATURE", genai.DefaultTemperature),
		SemanticTimeout:    util.ParseDurationEnv("SEMANTIC_TIMEOUT", DefaultSemanticTimeout),
		DuplicateWindow:    util.ParseDurationEnv("DUPLICATE_WINDOW", flow.DefaultDuplicateWindow),
		SkipPhrases:        os.Getenv("SKIP_PHRASES"),
		GHLAPIKey:          os.Getenv("GHL_API_KEY"),
		GHLLocationID:      os.Getenv("GHL_LOCATION_ID"),
		GHLWorkflowID:      os.Getenv("GHL_WORKFLOW_ID"),
		GHLAPIURL:          os.Getenv("GHL_API_URL"),
		CompletionWebhook:  os.Getenv("COMPLETION_WEBHOOK_URL"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		StaffNotifyNumber:  os.Getenv("STAFF_NOTIFY_NUMBER"),
		SessionIdleTTL:     util.ParseDurationEnv("SESSION_IDLE_TTL", scheduler.DefaultSessionTTL),
		MaintenanceCron:    util.GetEnv("MAINTENANCE_CRON", scheduler.DefaultMaintenanceSpec),
		OutboxPollInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),
		RedriveLookback:    util.ParseDurationEnv("HANDOFF_REDRIVE_LOOKBACK", handoff.DefaultRedriveLookback),
		LogLevel:           util.GetEnv("INTAKEPIPE_LOG_LEVEL", "debug"),
		CORSOrigins:        util.GetEnv("CORS_ORIGINS", "*"),
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"INTAKEPIPE_ADDR", config.Addr,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"INTAKEPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"GHL_API_KEY_SET", config.GHLAPIKey != "",
		"COMPLETION_WEBHOOK_SET", config.CompletionWebhook != "",
		"TWILIO_SET", config.TwilioAccountSID != "")

	return config
}

// parseCommandLineFlags parses args with environment values as defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.addr, "addr", config.Addr, "HTTP listen address (overrides $INTAKEPIPE_ADDR)")
	fs.StringVar(&f.stateDir, "state-dir", config.StateDir, "state directory for IntakePipe data (overrides $INTAKEPIPE_STATE_DIR)")
	fs.StringVar(&f.dbDSN, "db-dsn", config.DatabaseDSN, "SQLite path or Postgres DSN (overrides $DATABASE_DSN)")
	fs.StringVar(&f.catalogPath, "catalog", config.CatalogPath, "question catalog YAML; embedded default when empty (overrides $INTAKEPIPE_CATALOG)")
	fs.StringVar(&f.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.openaiModel, "openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	fs.Float64Var(&f.openaiTemperature, "openai-temperature", config.OpenAITemperature, "OpenAI temperature (overrides $OPENAI_TEMPERATURE)")
	fs.DurationVar(&f.semanticTimeout, "semantic-timeout", config.SemanticTimeout, "bound on one semantic check (overrides $SEMANTIC_TIMEOUT)")
	fs.DurationVar(&f.duplicateWindow, "duplicate-window", config.DuplicateWindow, "duplicate start suppression window (overrides $DUPLICATE_WINDOW)")
	fs.StringVar(&f.skipPhrases, "skip-phrases", config.SkipPhrases, "comma-separated skip phrases (overrides $SKIP_PHRASES)")
	fs.StringVar(&f.ghlAPIKey, "ghl-api-key", config.GHLAPIKey, "CRM API key (overrides $GHL_API_KEY)")
	fs.StringVar(&f.ghlLocationID, "ghl-location-id", config.GHLLocationID, "CRM location ID (overrides $GHL_LOCATION_ID)")
	fs.StringVar(&f.ghlWorkflowID, "ghl-workflow-id", config.GHLWorkflowID, "CRM workflow triggered after sync (overrides $GHL_WORKFLOW_ID)")
	fs.StringVar(&f.ghlAPIURL, "ghl-api-url", config.GHLAPIURL, "CRM API base URL (overrides $GHL_API_URL)")
	fs.StringVar(&f.completionWebhook, "completion-webhook-url", config.CompletionWebhook, "completion webhook URL (overrides $COMPLETION_WEBHOOK_URL)")
	fs.StringVar(&f.twilioAccountSID, "twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&f.twilioAuthToken, "twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&f.twilioFromNumber, "twilio-from-number", config.TwilioFromNumber, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.StringVar(&f.staffNotifyNumber, "staff-notify-number", config.StaffNotifyNumber, "staff SMS recipient (overrides $STAFF_NOTIFY_NUMBER)")
	fs.DurationVar(&f.sessionIdleTTL, "session-idle-ttl", config.SessionIdleTTL, "evict idle live sessions after (overrides $SESSION_IDLE_TTL)")
	fs.StringVar(&f.maintenanceCron, "maintenance-cron", config.MaintenanceCron, "maintenance schedule (overrides $MAINTENANCE_CRON)")
	fs.DurationVar(&f.outboxPollInterval, "outbox-poll-interval", config.OutboxPollInterval, "outbox poll interval (overrides $OUTBOX_POLL_INTERVAL)")
	fs.DurationVar(&f.redriveLookback, "handoff-redrive-lookback", config.RedriveLookback, "re-enqueue hand-offs for intakes completed within (overrides $HANDOFF_REDRIVE_LOOKBACK)")
	fs.StringVar(&f.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $INTAKEPIPE_LOG_LEVEL)")
	fs.StringVar(&f.corsOrigins, "cors-origins", config.CORSOrigins, "comma-separated allowed CORS origins (overrides $CORS_ORIGINS)")

	if err := fs.Parse(args); err != nil {
		return f, err
	}

	// Follow a state directory override when the DSN is still the derived default
	if f.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && f.stateDir != config.StateDir {
		f.dbDSN = filepath.Join(f.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", f.stateDir)
	}

	slog.Debug("flags parsed",
		"addr", f.addr,
		"stateDir", f.stateDir,
		"dbDSN_set", f.dbDSN != "",
		"catalog", f.catalogPath,
		"openaiKeySet", f.openaiKey != "",
		"maintenanceCron", f.maintenanceCron)
	return f, nil
}

// ensureDirectoriesExist creates the directory for a file-based database
func ensureDirectoriesExist(flags Flags) error {
	if flags.dbDSN == "" || store.DetectDSNType(flags.dbDSN) == store.BackendPostgres {
		return nil
	}
	stateDir := filepath.Dir(flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	return nil
}

// buildGenAIOptions constructs OpenAI client options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(flags.openaiModel))
	}
	opts = append(opts, genai.WithTemperature(flags.openaiTemperature))
	return opts
}

// buildCRMOptions constructs CRM client options
func buildCRMOptions(flags Flags) []crm.Option {
	opts := []crm.Option{crm.WithAPIKey(flags.ghlAPIKey)}
	if flags.ghlLocationID != "" {
		opts = append(opts, crm.WithLocationID(flags.ghlLocationID))
	}
	if flags.ghlAPIURL != "" {
		opts = append(opts, crm.WithBaseURL(flags.ghlAPIURL))
	}
	return opts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []notify.Option {
	return []notify.Option{
		notify.WithAccountSID(flags.twilioAccountSID),
		notify.WithAuthToken(flags.twilioAuthToken),
		notify.WithFrom(flags.twilioFromNumber),
	}
}

// buildEngineOptions constructs turn engine options
func buildEngineOptions(flags Flags) []flow.Option {
	opts := []flow.Option{flow.WithDuplicateWindow(flags.duplicateWindow)}
	if phrases := util.SplitList(flags.skipPhrases); len(phrases) > 0 {
		opts = append(opts, flow.WithSkipPhrases(phrases))
	}
	return opts
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// buildRouter registers a deliverer for every configured hand-off collaborator.
func buildRouter(flags Flags, cat *catalog.Catalog, recorder crm.ExternalIDRecorder) (*handoff.Router, error) {
	router := handoff.NewRouter()

	if flags.ghlAPIKey != "" {
		client, err := crm.NewClient(buildCRMOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("crm client: %w", err)
		}
		router.Register(handoff.KindCRMSync, crm.NewSyncer(client, cat, recorder, crm.WithWorkflowID(flags.ghlWorkflowID)))
	}
	if flags.completionWebhook != "" {
		hook, err := notify.NewWebhookClient(flags.completionWebhook, nil)
		if err != nil {
			return nil, fmt.Errorf("completion webhook: %w", err)
		}
		router.Register(handoff.KindCompletionWebhook, hook)
	}
	if flags.staffNotifyNumber != "" {
		sms, err := notify.NewTwilioClient(buildTwilioOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		staff, err := notify.NewStaffNotifier(sms, flags.staffNotifyNumber)
		if err != nil {
			return nil, fmt.Errorf("staff notifier: %w", err)
		}
		router.Register(handoff.KindStaffNotification, staff)
	}
	if len(router.Kinds()) == 0 {
		slog.Warn("buildRouter: no hand-off collaborators configured; completions are only recorded")
	}
	return router, nil
}

// run wires every component and blocks until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	cat, err := loadCatalog(flags.catalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	// SQLite allows one writer process per state directory
	if flags.dbDSN != "" && store.DetectDSNType(flags.dbDSN) == store.BackendSQLite {
		lock, err := lockfile.Acquire(filepath.Dir(flags.dbDSN), flags.addr)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	var gaClient *genai.Client
	validatorOpts := []validate.Option{}
	if flags.openaiKey != "" {
		gaClient, err = genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("openai client: %w", err)
		}
		bounded := validate.NewBounded(genai.NewInterpreter(gaClient), flags.semanticTimeout,
			validate.WithFallbackHook(recorder.SemanticFallback))
		validatorOpts = append(validatorOpts, validate.WithInterpreter(bounded))
		slog.Info("Semantic interpretation enabled", "model", gaClient.Model())
	} else {
		slog.Info("No OpenAI key configured; using rule-based interpretation")
	}

	router, err := buildRouter(flags, cat, st)
	if err != nil {
		return err
	}

	dispatcher := handoff.NewDispatcher(st, router.Kinds()...)
	engineOpts := append(buildEngineOptions(flags),
		flow.WithValidator(validate.New(validatorOpts...)),
		flow.WithDedup(st),
		flow.WithObserver(recorder),
		flow.WithCompletionHandler(dispatcher),
	)
	engine := flow.NewEngine(cat, st, engineOpts...)

	sender := store.NewOutboxSender(st, router.Send, flags.outboxPollInterval,
		store.WithObserver(recorder.OutboxDelivery))

	sched := scheduler.NewScheduler(scheduler.WithJobObserver(recorder.JobFinished))
	defer sched.Stop()
	if err := scheduler.RegisterMaintenance(sched, scheduler.MaintenanceConfig{
		Spec:       flags.maintenanceCron,
		SessionTTL: flags.sessionIdleTTL,
		Sessions:   engine,
		Outbox:     sender,
		Inbound:    st,
		Handoffs:   handoff.NewRedriver(dispatcher, st, flags.redriveLookback),
	}); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	// Hand-offs claimed by a previous process that died mid-delivery
	if err := sched.Run(scheduler.JobRecoverOutbox); err != nil {
		slog.Warn("Startup outbox recovery failed", "error", err)
	}
	// Completions whose enqueue failed before the last shutdown
	if err := sched.Run(scheduler.JobRedriveHandoffs); err != nil {
		slog.Warn("Startup hand-off redrive failed", "error", err)
	}

	server := api.NewServer(engine,
		api.WithAddr(flags.addr),
		api.WithCORSOrigins(util.SplitList(flags.corsOrigins)),
		api.WithAnswerGenerator(genai.NewAnswerGenerator(gaClient)),
		api.WithExternalIDRecorder(st),
		api.WithRecords(st),
		api.WithBackend(st.Backend()),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sender.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	return g.Wait()
}
