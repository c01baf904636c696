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

	"github.com/joho/godotenv"

	"github.com/BTreeMap/IntakeDesk/internal/api"
	"github.com/BTreeMap/IntakeDesk/internal/config"
	"github.com/BTreeMap/IntakeDesk/internal/flow"
	"github.com/BTreeMap/IntakeDesk/internal/genai"
	"github.com/BTreeMap/IntakeDesk/internal/lockfile"
	"github.com/BTreeMap/IntakeDesk/internal/messaging"
	"github.com/BTreeMap/IntakeDesk/internal/notify"
	"github.com/BTreeMap/IntakeDesk/internal/scheduler"
	"github.com/BTreeMap/IntakeDesk/internal/semantic"
	"github.com/BTreeMap/IntakeDesk/internal/store"
	"github.com/BTreeMap/IntakeDesk/internal/util"
	"github.com/BTreeMap/IntakeDesk/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakeDesk state data
	DefaultStateDir = "/var/lib/intakedesk"
	// DefaultAppDBFileName is the default SQLite database filename for sessions and tickets
	DefaultAppDBFileName = "intakedesk.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow device
	DefaultWhatsAppDBFileName = "whatsmeow.db"

	outboxPollInterval = 5 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func main() {
	env := loadEnvironmentConfig()
	initializeLogger(env.LogLevel)

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], env)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping IntakeDesk", "state_dir", flags.stateDir, "api_addr", flags.apiAddr,
		"semantic", flags.openaiKey != "", "whatsapp", flags.whatsapp, "twilio", flags.twilioSID != "")
	if err := run(ctx, flags); err != nil {
		slog.Error("IntakeDesk failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("IntakeDesk exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	AppDBDSN      string
	WhatsAppDBDSN string
	ConfigPath    string
	OpenAIKey     string
	OpenAIModel   string
	APIAddr       string
	SessionTTL    string
	SweepSchedule string
	LogLevel      string
	WhatsApp      bool
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	HelpdeskTo    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      string
	appDBDSN      string
	waDBDSN       string
	configPath    string
	openaiKey     string
	openaiModel   string
	apiAddr       string
	sessionTTL    time.Duration
	sweepSchedule string
	whatsapp      bool
	qrOutput      string
	numeric       bool
	twilioSID     string
	twilioToken   string
	twilioFrom    string
	helpdeskTo    string
}

// initializeLogger installs a text handler at the named level (debug, info, warn, error).
func initializeLogger(level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)})))
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	env := Config{
		StateDir:      os.Getenv("INTAKEDESK_STATE_DIR"),
		AppDBDSN:      os.Getenv("DATABASE_DSN"),
		WhatsAppDBDSN: os.Getenv("WHATSAPP_DB_DSN"),
		ConfigPath:    os.Getenv("INTAKEDESK_CONFIG"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       os.Getenv("API_ADDR"),
		SessionTTL:    os.Getenv("SESSION_TTL"),
		SweepSchedule: os.Getenv("SWEEP_SCHEDULE"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		WhatsApp:      util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		HelpdeskTo:    os.Getenv("HELPDESK_NOTIFY_NUMBER"),
	}

	if env.StateDir == "" {
		env.StateDir = DefaultStateDir
	}
	// DATABASE_DSN takes precedence over DATABASE_URL.
	if env.AppDBDSN == "" {
		env.AppDBDSN = os.Getenv("DATABASE_URL")
	}
	if env.AppDBDSN == "" {
		env.AppDBDSN = defaultAppDSN(env.StateDir)
	}
	if env.WhatsAppDBDSN == "" {
		env.WhatsAppDBDSN = defaultWhatsAppDSN(env.StateDir)
	}

	slog.Debug("environment variables loaded",
		"INTAKEDESK_STATE_DIR", env.StateDir,
		"DATABASE_DSN_SET", env.AppDBDSN != "",
		"INTAKEDESK_CONFIG", env.ConfigPath,
		"OPENAI_API_KEY_SET", env.OpenAIKey != "",
		"API_ADDR", env.APIAddr,
		"WHATSAPP_ENABLED", env.WhatsApp)
	return env
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, env Config) (Flags, error) {
	var f Flags
	var ttl string
	fs.StringVar(&f.stateDir, "state-dir", env.StateDir, "state directory for IntakeDesk data (overrides $INTAKEDESK_STATE_DIR)")
	fs.StringVar(&f.appDBDSN, "db-dsn", env.AppDBDSN, "session database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_DSN or $DATABASE_URL)")
	fs.StringVar(&f.waDBDSN, "whatsapp-db-dsn", env.WhatsAppDBDSN, "whatsmeow device database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&f.configPath, "config", env.ConfigPath, "optional YAML tuning file (overrides $INTAKEDESK_CONFIG)")
	fs.StringVar(&f.openaiKey, "openai-api-key", env.OpenAIKey, "OpenAI API key; enables semantic capabilities (overrides $OPENAI_API_KEY)")
	fs.StringVar(&f.openaiModel, "openai-model", env.OpenAIModel, "OpenAI model (overrides $OPENAI_MODEL)")
	fs.StringVar(&f.apiAddr, "api-addr", env.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&ttl, "session-ttl", env.SessionTTL, "idle session lifetime such as 30m (overrides $SESSION_TTL)")
	fs.StringVar(&f.sweepSchedule, "sweep-schedule", env.SweepSchedule, "cron schedule of the expired session sweep (overrides $SWEEP_SCHEDULE)")
	fs.BoolVar(&f.whatsapp, "whatsapp", env.WhatsApp, "accept reports over WhatsApp (overrides $WHATSAPP_ENABLED)")
	fs.StringVar(&f.qrOutput, "qr-output", "", "path to write WhatsApp login QR code")
	fs.BoolVar(&f.numeric, "numeric-code", false, "use numeric WhatsApp login code instead of QR code")
	fs.StringVar(&f.twilioSID, "twilio-account-sid", env.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&f.twilioToken, "twilio-auth-token", env.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&f.twilioFrom, "twilio-from", env.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.StringVar(&f.helpdeskTo, "helpdesk-number", env.HelpdeskTo, "helpdesk number that receives tickets (overrides $HELPDESK_NOTIFY_NUMBER)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return Flags{}, fmt.Errorf("invalid session TTL %q", ttl)
		}
		f.sessionTTL = d
	}

	// Default DSNs follow an overridden state directory.
	if f.stateDir != env.StateDir {
		if f.appDBDSN == defaultAppDSN(env.StateDir) {
			f.appDBDSN = defaultAppDSN(f.stateDir)
		}
		if f.waDBDSN == defaultWhatsAppDSN(env.StateDir) {
			f.waDBDSN = defaultWhatsAppDSN(f.stateDir)
		}
	}

	slog.Debug("flags parsed",
		"stateDir", f.stateDir,
		"dbDSN_set", f.appDBDSN != "",
		"configPath", f.configPath,
		"openaiKeySet", f.openaiKey != "",
		"apiAddr", f.apiAddr,
		"sessionTTL", f.sessionTTL,
		"whatsapp", f.whatsapp)
	return f, nil
}

// ensureDirectoriesExist creates the directories of file-based databases.
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{flags.appDBDSN, flags.waDBDSN} {
		if dsn == "" || store.DetectDSNType(dsn) == "postgres" {
			continue
		}
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	return nil
}

// applyOverrides lets flags and environment variables win over the YAML file.
func applyOverrides(file config.File, flags Flags) config.File {
	if flags.sessionTTL > 0 {
		file.SessionTTL = config.Duration(flags.sessionTTL)
	}
	if flags.sweepSchedule != "" {
		file.SweepSchedule = flags.sweepSchedule
	}
	if flags.openaiModel != "" {
		file.GenAI.Model = flags.openaiModel
	}
	return file
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags, file config.File) []genai.Option {
	opts := []genai.Option{genai.WithAPIKey(flags.openaiKey)}
	if file.GenAI.Model != "" {
		opts = append(opts, genai.WithModel(file.GenAI.Model))
	}
	if file.GenAI.Timeout > 0 {
		opts = append(opts, genai.WithTimeout(file.GenAI.Timeout.Std()))
	}
	if file.GenAI.RatePerSec > 0 {
		opts = append(opts, genai.WithRateLimit(file.GenAI.RatePerSec, file.GenAI.Burst))
	}
	return opts
}

// buildFlowOptions wires thresholds, the notifier and, when an API key is set, the semantic
// capabilities.
func buildFlowOptions(flags Flags, file config.File, notifier notify.Notifier) ([]flow.Option, error) {
	opts := []flow.Option{
		flow.WithThresholds(file.Thresholds),
		flow.WithSessionTTL(file.SessionTTL.Std()),
		flow.WithNotifier(notifier),
	}
	if flags.openaiKey == "" {
		slog.Info("No OpenAI API key configured, running rule-based only")
		return opts, nil
	}
	client, err := genai.NewClient(buildGenAIOptions(flags, file)...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return append(opts,
		flow.WithIntentClassifier(semantic.NewIntentClassifier(client), file.SemanticThreshold),
		flow.WithExtractor(semantic.NewFieldExtractor(client)),
		flow.WithReasoner(semantic.NewReasoner(client)),
		flow.WithSummarizer(semantic.NewSummarizer(client)),
	), nil
}

// buildNotifier returns the Twilio notifier when credentials are configured, else LogNotifier.
func buildNotifier(flags Flags) (notify.Notifier, error) {
	if flags.twilioSID == "" {
		slog.Info("No Twilio credentials configured, tickets are logged only")
		return notify.LogNotifier{}, nil
	}
	n, err := notify.NewTwilioNotifier(
		notify.WithAccountSID(flags.twilioSID),
		notify.WithAuthToken(flags.twilioToken),
		notify.WithFromNumber(flags.twilioFrom),
		notify.WithHelpdeskNumber(flags.helpdeskTo),
	)
	if err != nil {
		return nil, fmt.Errorf("create twilio notifier: %w", err)
	}
	return n, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if flags.waDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(flags.waDBDSN))
	}
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	return apiOpts
}

// openStore opens the session backend behind the LRU cache.
func openStore(dsn string, cacheSize int) (*store.CachedStore, error) {
	backend, err := store.New(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	cached, err := store.NewCachedStore(backend, cacheSize)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return cached, nil
}

// startBackground starts the outbox sender and the expiry sweep. The returned scheduler must
// be stopped on shutdown.
func startBackground(ctx context.Context, st store.Store, f *flow.IntakeFlow, notifier notify.Notifier, schedule string) (*scheduler.Scheduler, error) {
	sender := store.NewOutboxSender(st, notify.NewOutboxSendFunc(notifier, st), outboxPollInterval,
		store.WithAbandonHandler(func(msg store.OutboxMessage, lastErr error) {
			slog.Error("Ticket notification abandoned", "id", msg.ID, "sessionID", msg.SessionID, "error", lastErr)
		}))
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("Outbox recovery failed", "error", err)
	}
	go sender.Run(ctx)

	sched := scheduler.NewScheduler()
	if _, err := sched.AddJob("session_sweep", schedule, func() {
		n, err := f.Sweep(ctx)
		if err != nil {
			slog.Error("Session sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Session sweep removed expired sessions", "count", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}
	return sched, nil
}

// startWhatsApp logs in and relays WhatsApp messages into the flow. The returned func stops it.
func startWhatsApp(ctx context.Context, flags Flags, f *flow.IntakeFlow) (func(), error) {
	client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
	if err != nil {
		return nil, err
	}
	svc := messaging.NewWhatsAppService(client)
	if err := svc.Start(ctx); err != nil {
		client.Disconnect()
		return nil, err
	}
	relay := messaging.NewRelay(svc, f, "whatsapp")
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("WhatsApp relay stopped", "error", err)
		}
	}()
	return func() {
		client.Disconnect()
		svc.Stop()
		<-done
	}, nil
}

// run wires every module and blocks until ctx is cancelled or the API server fails.
func run(ctx context.Context, flags Flags) error {
	file, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	file = applyOverrides(file, flags)
	if err := file.Validate(); err != nil {
		return err
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}
	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags.appDBDSN, file.CacheSize)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, err := buildNotifier(flags)
	if err != nil {
		return err
	}
	flowOpts, err := buildFlowOptions(flags, file, notifier)
	if err != nil {
		return err
	}
	f, err := flow.NewIntakeFlow(st, flowOpts...)
	if err != nil {
		return err
	}

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	sched, err := startBackground(bgCtx, st, f, notifier, file.SweepSchedule)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			slog.Warn("Scheduler stop timed out", "error", err)
		}
	}()

	if flags.whatsapp {
		stopWA, err := startWhatsApp(bgCtx, flags, f)
		if err != nil {
			return fmt.Errorf("start whatsapp: %w", err)
		}
		defer stopWA()
	}

	srv := api.NewServer(f, buildAPIOptions(flags)...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
