package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ogulcanaydogan/ad-alert-guardian/internal/config"
	"github.com/ogulcanaydogan/ad-alert-guardian/internal/telemetry"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/checker"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/evaluator"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/guard"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/lifecycle"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/snapshot"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/targets"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aag",
	Short: "Ad Alert Guardian - ad account metric alerting",
	Long: `Ad Alert Guardian compares ad account metrics against per-account targets,
raises deduplicated alerts with a tracked lifecycle, and notifies Slack or
webhooks at most once per hourly run.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.aag/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config. The returned closer
// flushes the rotating log file when one is configured.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Logging.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   true,
		}
		out, closer = lj, lj
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// app bundles the wired components shared by commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	history  storage.HistoryStore
	guard    *guard.Guard
	checker  *checker.Checker
	closers  []io.Closer
}

// Close releases the app's resources in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initApp creates a fully wired checker and its collaborators.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser := newLogger(cfg)
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(a.registry)

	a.history, err = initStorage(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.history)

	records, err := a.initRecordStore()
	if err != nil {
		return err
	}
	a.guard = guard.New(records, guard.Options{
		Location:     loc,
		StaleAfter:   a.cfg.Guard.StaleAfter,
		CompletedTTL: a.cfg.Guard.CompletedTTL,
		TaskTimeout:  a.cfg.Guard.TaskTimeout,
		Logger:       a.logger,
	})

	rules, err := initRules(a.cfg)
	if err != nil {
		return err
	}

	a.checker = checker.New(checker.Deps{
		Settings:    targets.NewFileSettings(a.cfg.Settings.Path),
		Snapshots:   snapshot.NewFileProvider(a.cfg.Snapshots.Dir, a.logger),
		History:     a.history,
		Guard:       a.guard,
		Engine:      lifecycle.NewEngine(lifecycle.Options{Retention: a.cfg.Evaluation.Retention, Location: loc}),
		Dispatcher:  alerts.NewDispatcher(a.logger, initNotifiers(a.cfg)...),
		Policy:      evaluator.Policy{CriticalDeviation: a.cfg.Evaluation.CriticalDeviation},
		Rules:       rules,
		Concurrency: a.cfg.Checker.Concurrency,
		RunTimeout:  a.cfg.Checker.RunTimeout,
		Recorder:    a.metrics,
		Logger:      a.logger,
	})
	return nil
}

// initStorage creates the alert history backend from config.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.HistoryStore, error) {
	return storage.Open(ctx, storage.Options{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
		DSN:    cfg.Storage.DSN,
		Logger: logger,
	})
}

// initRecordStore creates the execution record store named by guard.backend.
func (a *app) initRecordStore() (guard.RecordStore, error) {
	switch a.cfg.Guard.Backend {
	case "memory":
		return guard.NewMemoryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb)
		return guard.NewRedisStore(rdb, a.cfg.Redis.Prefix, 0), nil
	default:
		rs, ok := a.history.(guard.RecordStore)
		if !ok {
			return nil, fmt.Errorf("storage driver %q cannot hold execution records", a.cfg.Storage.Driver)
		}
		return rs, nil
	}
}

// initRules loads grading rules, falling back to the built-in table.
func initRules(cfg *config.Config) (evaluator.Rules, error) {
	if cfg.Evaluation.RulesPath == "" {
		return evaluator.DefaultRules(), nil
	}
	rules, err := evaluator.LoadRules(cfg.Evaluation.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}
