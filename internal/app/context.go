package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/notify"
	"caseflow/internal/repo"
	"caseflow/internal/scheduler"
	"caseflow/internal/sealed"
	"caseflow/internal/telemetry"
)

// Services is the dependency graph shared by the server, the scheduler and the CLI.
type Services struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Engine    engine.Engine
	Scheduler scheduler.Scheduler
	Logger    *slog.Logger

	shutdownTelemetry func(context.Context) error
}

type Options struct {
	Workspace string
	// Config skips loading caseflow.yml from the workspace.
	Config *config.Config
	Logger *slog.Logger
	// DBPath overrides the workspace database location.
	DBPath string
	// LogLevel overrides the configured level when set.
	LogLevel string
	Now      func() time.Time
}

// Bootstrap opens and migrates the workspace database, syncs the configured
// catalog and staff, and wires every component.
func Bootstrap(ctx context.Context, opts Options) (*Services, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Workspace); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		level := cfg.Log.Level
		if opts.LogLevel != "" {
			level = opts.LogLevel
		}
		logger = NewLogger(os.Stderr, level)
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Services, error) {
		conn.Close()
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if err := SyncCatalog(ctx, repo.Repo{DB: conn}, cfg, now().UTC().Format(time.RFC3339)); err != nil {
		return fail(fmt.Errorf("sync catalog: %w", err))
	}
	sealer, err := NewSealer(cfg, opts.Workspace)
	if err != nil {
		return fail(err)
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "caseflow",
		Interval:    time.Duration(cfg.Telemetry.IntervalSeconds) * time.Second,
	})
	if err != nil {
		return fail(err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.Meter())
	if err != nil {
		return fail(err)
	}

	var pusher notify.Pusher
	if strings.TrimSpace(cfg.Push.URL) != "" {
		pusher = notify.HTTPPusher{
			URL:        cfg.Push.URL,
			Secret:     cfg.Push.Secret,
			Timeout:    cfg.PushTimeout(),
			MaxRetries: cfg.Push.MaxRetries,
			Events:     cfg.Push.Events,
		}
	}
	eng := engine.New(conn, engine.Options{
		Sealer:   sealer,
		Pusher:   pusher,
		Currency: cfg.Billing.Currency,
		Metrics:  metrics,
		Logger:   logger,
	})
	if opts.Now != nil {
		eng = eng.WithClock(opts.Now)
	}
	return &Services{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Scheduler: scheduler.Scheduler{
			Engine:     eng,
			Terminal:   cfg.Scheduler.TerminalStatuses,
			StaleAfter: cfg.StaleAfter(),
			Interval:   cfg.SchedulerInterval(),
			SLASweep:   cfg.SLASweepEnabled(),
			Logger:     logger.With("component", "scheduler"),
		},
		Logger:            logger,
		shutdownTelemetry: shutdown,
	}, nil
}

// Close flushes telemetry and closes the database.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.shutdownTelemetry != nil {
		errs = append(errs, s.shutdownTelemetry(ctx))
	}
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	return errors.Join(errs...)
}

// SyncCatalog upserts the configured topics, statuses, rules and staff.
// Rows that are absent from the config are left untouched.
func SyncCatalog(ctx context.Context, r repo.Repo, cfg *config.Config, now string) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range cfg.Catalog.Topics {
		if err := r.UpsertTopicTx(ctx, tx, t.Topic()); err != nil {
			return fmt.Errorf("topic %s: %w", t.Code, err)
		}
	}
	for _, s := range cfg.Catalog.Statuses {
		if err := r.UpsertStatusTx(ctx, tx, s.Status()); err != nil {
			return fmt.Errorf("status %s: %w", s.Code, err)
		}
	}
	for _, rule := range cfg.Catalog.Rules {
		if err := r.UpsertRuleTx(ctx, tx, rule.Rule()); err != nil {
			return fmt.Errorf("rule %s %s -> %s: %w", rule.Topic, rule.From, rule.To, err)
		}
	}
	for _, sc := range cfg.Staff {
		staff, err := sc.Staff(now)
		if err != nil {
			return err
		}
		if err := r.InsertStaffTx(ctx, tx, staff); err != nil {
			return fmt.Errorf("staff %s: %w", sc.ID, err)
		}
		for _, topic := range sc.Topics {
			if err := r.AddStaffTopicTx(ctx, tx, sc.ID, topic); err != nil {
				return fmt.Errorf("staff %s topic %s: %w", sc.ID, topic, err)
			}
		}
	}
	return tx.Commit()
}

// NewSealer seals invoices to the configured recipients, or to the workspace
// key file when none are configured.
func NewSealer(cfg *config.Config, workspace string) (*sealed.Sealer, error) {
	recipients := cfg.Billing.Recipients
	if len(recipients) == 0 {
		kp, err := sealed.LoadOrCreateKeyFile(cfg.KeyFilePath(workspace))
		if err != nil {
			return nil, fmt.Errorf("invoice key: %w", err)
		}
		recipients = []string{kp.PublicKey}
	}
	return sealed.New(recipients)
}

// NewLogger builds a text logger at the named level; unknown levels mean info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
