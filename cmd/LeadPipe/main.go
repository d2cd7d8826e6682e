package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/events"
	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/goals"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/recovery"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultAppDBFileName is the default SQLite database filename
	DefaultAppDBFileName = "leadpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultCatalogDirName is the catalog directory inside the state directory
	DefaultCatalogDirName = "catalogs"
	// DefaultTenantID binds phone transports when no tenant is configured
	DefaultTenantID = "default"
	// DefaultOutboxPoll is how often queued goal events are relayed
	DefaultOutboxPoll = store.DefaultRelayInterval
)

// Store backends selectable with -store.
const (
	backendSQL    = "sql"
	backendBadger = "badger"
	backendMemory = "memory"
)

func main() {
	envErr := godotenv.Load()
	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		os.Exit(2)
	}
	initializeLogger(flags.logFormat, flags.logLevel)
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping LeadPipe", "state_dir", flags.stateDir, "store", flags.storeBackend, "api_addr", flags.apiAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	StoreBackend     string
	CatalogDir       string
	OpenAIKey        string
	OpenAIModel      string
	OpenAIBaseURL    string
	APIAddr          string
	APIKey           string
	NATSURL          string
	NATSSubject      string
	LogFormat        string
	LogLevel         string
	TenantID         string
	PersonaID        string
	TwilioEnabled    bool
	TwilioCallback   string
	WhatsAppEnabled  bool
	TypingDelays     bool
	GenAIDebug       bool
	HistoryLimit     int
	StateRetention   time.Duration
	OutboxPoll       time.Duration
}

// Flags holds the resolved command line configuration
type Flags struct {
	stateDir       string
	dbDSN          string
	storeBackend   string
	catalogDir     string
	openaiKey      string
	openaiModel    string
	openaiBaseURL  string
	apiAddr        string
	apiKey         string
	natsURL        string
	natsSubject    string
	logFormat      string
	logLevel       string
	tenantID       string
	personaID      string
	twilio         bool
	twilioCallback string
	whatsapp       bool
	waDSN          string
	qrOutput       string
	numeric        bool
	typingDelays   bool
	genaiDebug     bool
	historyLimit   int
	stateRetention time.Duration
	outboxPoll     time.Duration
}

// initializeLogger sets up structured logging. "pretty" selects colored console output.
func initializeLogger(format, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

// loadEnvironmentConfig reads configuration from the environment (after .env is loaded)
func loadEnvironmentConfig() Config {
	config := Config{
		StateDir:         os.Getenv("LEADPIPE_STATE_DIR"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StoreBackend:     os.Getenv("LEADPIPE_STORE"),
		CatalogDir:       os.Getenv("LEADPIPE_CATALOG_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		APIKey:           os.Getenv("LEADPIPE_API_KEY"),
		NATSURL:          os.Getenv("NATS_URL"),
		NATSSubject:      os.Getenv("NATS_SUBJECT_PREFIX"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		TenantID:         os.Getenv("LEADPIPE_TENANT_ID"),
		PersonaID:        os.Getenv("LEADPIPE_PERSONA_ID"),
		TwilioEnabled:    util.ParseBoolEnv("TWILIO_ENABLED", false),
		TwilioCallback:   os.Getenv("TWILIO_STATUS_CALLBACK"),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		TypingDelays:     util.ParseBoolEnv("LEADPIPE_TYPING_DELAYS", true),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		HistoryLimit:     util.ParseIntEnv("LEADPIPE_HISTORY_LIMIT", agent.DefaultHistoryLimit),
		StateRetention:   util.ParseDurationEnv("LEADPIPE_STATE_RETENTION", scheduler.DefaultStateRetention),
		OutboxPoll:       util.ParseDurationEnv("LEADPIPE_OUTBOX_POLL", DefaultOutboxPoll),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	// DATABASE_URL is accepted for the application database when DATABASE_DSN is unset.
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = filepath.Join(config.StateDir, DefaultAppDBFileName)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = whatsAppDSNFor(config.StateDir)
	}
	if config.StoreBackend == "" {
		config.StoreBackend = backendSQL
	}
	if config.CatalogDir == "" {
		config.CatalogDir = filepath.Join(config.StateDir, DefaultCatalogDirName)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.TenantID == "" {
		config.TenantID = DefaultTenantID
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.ApplicationDBDSN != "",
		"LEADPIPE_STORE", config.StoreBackend,
		"LEADPIPE_CATALOG_DIR", config.CatalogDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"NATS_URL_SET", config.NATSURL != "",
		"TWILIO_ENABLED", config.TwilioEnabled,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled)
	return config
}

func whatsAppDSNFor(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses args with environment defaults. DSNs derived from the
// default state directory follow an overridden -state-dir.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	var f Flags
	fs.StringVar(&f.stateDir, "state-dir", config.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&f.dbDSN, "db-dsn", config.ApplicationDBDSN, "application database DSN, SQLite path or Postgres URL (overrides $DATABASE_DSN)")
	fs.StringVar(&f.storeBackend, "store", config.StoreBackend, "store backend: sql, badger or memory (overrides $LEADPIPE_STORE)")
	fs.StringVar(&f.catalogDir, "catalog-dir", config.CatalogDir, "directory of goal catalog YAML/JSON files (overrides $LEADPIPE_CATALOG_DIR)")
	fs.StringVar(&f.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key; empty uses pattern extraction and template replies (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.openaiModel, "openai-model", config.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.openaiBaseURL, "openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible base URL (overrides $OPENAI_BASE_URL)")
	fs.StringVar(&f.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&f.apiKey, "api-key", config.APIKey, "bearer token required on /v1 routes (overrides $LEADPIPE_API_KEY)")
	fs.StringVar(&f.natsURL, "nats-url", config.NATSURL, "NATS server URL for goal events (overrides $NATS_URL)")
	fs.StringVar(&f.natsSubject, "nats-subject-prefix", config.NATSSubject, "NATS subject prefix (overrides $NATS_SUBJECT_PREFIX)")
	fs.StringVar(&f.logFormat, "log-format", config.LogFormat, "log format: text, json or pretty (overrides $LOG_FORMAT)")
	fs.StringVar(&f.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
	fs.StringVar(&f.tenantID, "tenant", config.TenantID, "tenant bound to the SMS and WhatsApp numbers (overrides $LEADPIPE_TENANT_ID)")
	fs.StringVar(&f.personaID, "persona", config.PersonaID, "persona bound to the SMS and WhatsApp numbers (overrides $LEADPIPE_PERSONA_ID)")
	fs.BoolVar(&f.twilio, "twilio", config.TwilioEnabled, "enable Twilio SMS (overrides $TWILIO_ENABLED)")
	fs.StringVar(&f.twilioCallback, "twilio-status-callback", config.TwilioCallback, "public URL of /webhooks/twilio/status (overrides $TWILIO_STATUS_CALLBACK)")
	fs.BoolVar(&f.whatsapp, "whatsapp", config.WhatsAppEnabled, "enable WhatsApp (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&f.waDSN, "whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	fs.BoolVar(&f.numeric, "numeric-code", false, "print the WhatsApp pairing code instead of a QR code")
	fs.BoolVar(&f.typingDelays, "typing-delays", config.TypingDelays, "pace reply chunks with simulated typing (overrides $LEADPIPE_TYPING_DELAYS)")
	fs.IntVar(&f.historyLimit, "history-limit", config.HistoryLimit, "messages of conversation history kept per channel (overrides $LEADPIPE_HISTORY_LIMIT)")
	fs.DurationVar(&f.stateRetention, "state-retention", config.StateRetention, "prune goal state idle longer than this (overrides $LEADPIPE_STATE_RETENTION)")
	fs.DurationVar(&f.outboxPoll, "outbox-poll", config.OutboxPoll, "event outbox poll interval (overrides $LEADPIPE_OUTBOX_POLL)")
	fs.BoolVar(&f.genaiDebug, "genai-debug", config.GenAIDebug, "log OpenAI requests to the state directory (overrides $GENAI_DEBUG)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if f.stateDir != config.StateDir {
		if f.dbDSN == filepath.Join(config.StateDir, DefaultAppDBFileName) {
			f.dbDSN = filepath.Join(f.stateDir, DefaultAppDBFileName)
		}
		if f.waDSN == whatsAppDSNFor(config.StateDir) {
			f.waDSN = whatsAppDSNFor(f.stateDir)
		}
		if f.catalogDir == filepath.Join(config.StateDir, DefaultCatalogDirName) {
			f.catalogDir = filepath.Join(f.stateDir, DefaultCatalogDirName)
		}
	}
	return f, nil
}

// buildStoreOptions constructs store configuration options for the selected backend
func buildStoreOptions(flags Flags) []store.Option {
	switch flags.storeBackend {
	case backendBadger:
		return []store.Option{store.WithBadgerDir(filepath.Join(flags.stateDir, "badger"))}
	case backendMemory:
		return nil
	}
	if store.DetectDSNType(flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(flags.dbDSN)}
}

// openStore opens the configured backend.
func openStore(flags Flags) (store.Store, error) {
	opts := buildStoreOptions(flags)
	switch flags.storeBackend {
	case backendMemory:
		slog.Warn("Using in-memory store; conversation state is lost on restart")
		return store.NewInMemoryStore(), nil
	case backendBadger:
		return store.NewBadgerStore(opts...)
	case backendSQL:
		if store.DetectDSNType(flags.dbDSN) == "postgres" {
			return store.NewPostgresStore(opts...)
		}
		return store.NewSQLiteStore(opts...)
	}
	return nil, fmt.Errorf("unknown store backend %q", flags.storeBackend)
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiModel != "" {
		opts = append(opts, genai.WithModel(flags.openaiModel))
	}
	if flags.openaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(flags.openaiBaseURL))
	}
	if flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true, flags.stateDir))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(flags.apiAddr))
	}
	if flags.apiKey != "" {
		opts = append(opts, api.WithAPIKey(flags.apiKey))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var opts []whatsapp.Option
	if flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	if flags.waDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(flags.waDSN))
	}
	return opts
}

// buildTwilioOptions constructs Twilio options; credentials come from TWILIO_* variables.
func buildTwilioOptions(flags Flags) []twilio.Option {
	var opts []twilio.Option
	if flags.twilioCallback != "" {
		opts = append(opts, twilio.WithStatusCallback(flags.twilioCallback))
	}
	return opts
}

// brains holds the text understanding components.
type brains struct {
	extractor extract.Extractor
	replies   agent.ReplyGenerator
	analyzer  agent.Analyzer
}

// buildBrains uses OpenAI when a key is configured and falls back to patterns and templates.
func buildBrains(flags Flags) (brains, error) {
	if flags.openaiKey == "" {
		slog.Info("No OpenAI API key configured, using pattern extraction and template replies")
		return brains{extractor: extract.PatternExtractor{}, replies: genai.TemplateReplyGenerator{}}, nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return brains{}, fmt.Errorf("create GenAI client: %w", err)
	}
	return brains{
		extractor: extract.FallbackExtractor{Primary: genai.NewExtractor(client), Fallback: extract.PatternExtractor{}},
		replies:   genai.NewReplyGenerator(client),
		analyzer:  genai.NewAnalyzer(client),
	}, nil
}

// eventPipeline is the publisher handed to the orchestrator plus what must run or close with it.
type eventPipeline struct {
	publisher events.Publisher
	relay     *store.OutboxRelay
	close     func()
}

// buildEventPipeline routes goal events through the durable outbox when the store has one,
// relaying to NATS if configured and to the log otherwise.
func buildEventPipeline(flags Flags, st store.Store) (eventPipeline, error) {
	sink := events.Publisher(events.LogPublisher{})
	closeFn := func() {}
	if flags.natsURL != "" {
		var natsOpts []events.NATSOption
		if flags.natsSubject != "" {
			natsOpts = append(natsOpts, events.WithSubjectPrefix(flags.natsSubject))
		}
		nc, err := events.ConnectNATS(flags.natsURL, natsOpts...)
		if err != nil {
			return eventPipeline{}, err
		}
		sink = events.MultiPublisher{nc, events.LogPublisher{}}
		closeFn = nc.Close
	}

	if pp, ok := st.(store.PersistenceProvider); ok {
		repo := pp.OutboxRepo()
		relay := store.NewOutboxRelay(repo, events.Relay(countingPublisher{sink}), store.WithRelayInterval(flags.outboxPoll))
		return eventPipeline{publisher: events.NewOutboxPublisher(repo), relay: relay, close: closeFn}, nil
	}
	slog.Warn("Store has no outbox, publishing goal events directly")
	return eventPipeline{publisher: countingPublisher{sink}, close: closeFn}, nil
}

// countingPublisher counts delivered events.
type countingPublisher struct {
	next events.Publisher
}

func (p countingPublisher) Publish(ctx context.Context, ev events.Event) error {
	if err := p.next.Publish(ctx, ev); err != nil {
		return err
	}
	metrics.EventsPublished(1)
	return nil
}

// runTransport starts svc and a response handler feeding inbound messages into proc.
// The returned function stops both.
func runTransport(ctx context.Context, svc messaging.Service, proc *agent.TurnProcessor, deliverer *messaging.Deliverer, receipts messaging.ReceiptRecorder) (func(), error) {
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start %s service: %w", svc.Channel(), err)
	}
	deliverer.Register(svc.Channel(), svc)
	rh := messaging.NewResponseHandler(svc, proc, receipts)
	rh.Start(ctx)
	slog.Info("Transport started", "channel", svc.Channel())
	return func() {
		if err := svc.Stop(); err != nil {
			slog.Warn("Transport stop failed", "channel", svc.Channel(), "error", err)
		}
		rh.Wait()
	}, nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.Acquire(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()
	states := flow.NewStateStore(st)

	catalogs, err := catalog.NewFileSource(flags.catalogDir)
	if err != nil {
		return fmt.Errorf("load goal catalogs: %w", err)
	}
	go func() {
		err := catalogs.Watch(ctx, catalog.DefaultDebounce, func(err error) {
			metrics.CatalogReloaded(err)
			if err != nil {
				slog.Error("Catalog reload kept previous catalogs for failing files", "error", err)
				return
			}
			slog.Info("Catalogs reloaded", "keys", catalogs.Keys())
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Catalog watcher stopped", "error", err)
		}
	}()

	b, err := buildBrains(flags)
	if err != nil {
		return err
	}
	pipeline, err := buildEventPipeline(flags, st)
	if err != nil {
		return err
	}
	defer pipeline.close()

	orch := goals.NewOrchestrator(states, b.extractor, goals.WithPublisher(pipeline.publisher))
	tracker := flow.NewInterruptionTracker(flow.NewSimpleTimer())
	delivererOpts := []messaging.DelivererOption{messaging.WithReceiptRecorder(st)}
	if !flags.typingDelays {
		delivererOpts = append(delivererOpts, messaging.WithPacing(messaging.NoPacing))
	}
	deliverer := messaging.NewDeliverer(tracker, delivererOpts...)

	procOpts := []agent.Option{}
	if dr, ok := st.(store.DedupRepo); ok {
		procOpts = append(procOpts, agent.WithDedup(dr))
	}
	if b.analyzer != nil {
		procOpts = append(procOpts, agent.WithAnalyzer(b.analyzer))
	}
	if flags.historyLimit > 0 {
		procOpts = append(procOpts, agent.WithHistory(agent.NewHistory(flags.historyLimit)))
	}
	proc := agent.NewTurnProcessor(catalogs, states, orch, b.replies, tracker, deliverer, procOpts...)

	binding := messaging.Binding{TenantID: flags.tenantID, PersonaID: flags.personaID}
	var stops []func()
	defer func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}()

	var twilioSvc *messaging.TwilioService
	if flags.twilio {
		client, err := twilio.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return fmt.Errorf("create Twilio client: %w", err)
		}
		twilioSvc = messaging.NewTwilioService(client, binding)
		stop, err := runTransport(ctx, twilioSvc, proc, deliverer, st)
		if err != nil {
			return err
		}
		stops = append(stops, stop)
	}
	if flags.whatsapp {
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("create WhatsApp client: %w", err)
		}
		stops = append(stops, client.Disconnect)
		stop, err := runTransport(ctx, messaging.NewWhatsAppService(client, binding), proc, deliverer, st)
		if err != nil {
			return err
		}
		stops = append(stops, stop)
	}

	sched := scheduler.NewScheduler()
	stops = append(stops, sched.Stop)
	sweeps := scheduler.Sweeps{StateRetention: flags.stateRetention}
	if p, ok := st.(store.WorkflowStatePruner); ok {
		sweeps.States = p
	}
	if p, ok := st.(store.DedupPruner); ok {
		sweeps.Dedup = p
	}
	if pp, ok := st.(store.PersistenceProvider); ok {
		sweeps.Outbox = pp.OutboxRepo()
	}
	if err := sched.RegisterSweeps(sweeps); err != nil {
		return err
	}

	rm := recovery.NewRecoveryManager()
	if pipeline.relay != nil {
		rm.Register("outbox", func(context.Context) error {
			_, err := pipeline.relay.ReleaseStaleClaims()
			return err
		})
	}
	rm.Register("sweeps", func(context.Context) error {
		sched.RunNow()
		return nil
	})
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery finished with errors", "error", err)
	}
	if pipeline.relay != nil {
		go pipeline.relay.Run(ctx)
	}

	slog.Info("LeadPipe ready", "channels", enabledChannels(flags), "catalogs", catalogs.Keys())
	server := api.NewServer(proc, states, st, twilioSvc, buildAPIOptions(flags)...)
	return server.Run(ctx)
}

// enabledChannels lists the channels this process answers on.
func enabledChannels(flags Flags) []models.ChannelType {
	channels := []models.ChannelType{models.ChannelChat}
	if flags.twilio {
		channels = append(channels, models.ChannelSMS)
	}
	if flags.whatsapp {
		channels = append(channels, models.ChannelWhatsApp)
	}
	return channels
}
