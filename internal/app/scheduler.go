package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
)

const (
	DefaultAutoBackupSchedule = "@hourly"
	defaultAutoBackupTimeout  = 2 * time.Minute
)

type Exporter interface {
	ExportToFile(ctx context.Context, req ExportRequest) (*ExportResult, error)
}

type AutoBackupOptions struct {
	Backups     Exporter
	Preferences PreferenceStore
	// Schedule is a standard five-field cron spec or a descriptor such as
	// "@hourly". Empty means DefaultAutoBackupSchedule.
	Schedule string
	Logger   *slog.Logger
	Timeout  time.Duration
}

// AutoBackup checks backup preferences on a cron schedule and exports when
// the configured frequency window has elapsed since the last backup.
type AutoBackup struct {
	backups  Exporter
	prefs    PreferenceStore
	schedule string
	logger   *slog.Logger
	timeout  time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewAutoBackup(opts AutoBackupOptions) (*AutoBackup, error) {
	if opts.Backups == nil || opts.Preferences == nil {
		return nil, fmt.Errorf("%w: auto backup needs an exporter and preferences", ErrValidation)
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultAutoBackupSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("%w: auto backup schedule %q: %v", ErrValidation, schedule, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultAutoBackupTimeout
	}
	return &AutoBackup{
		backups:  opts.Backups,
		prefs:    opts.Preferences,
		schedule: schedule,
		logger:   logger,
		timeout:  timeout,
	}, nil
}

// Due reports whether prefs call for a backup at now.
func Due(prefs settings.BackupPreferences, now time.Time) bool {
	if !prefs.AutoBackupEnabled {
		return false
	}
	window := prefs.BackupFrequency.Window()
	if window == 0 {
		return false
	}
	if prefs.LastBackupTime == nil {
		return true
	}
	return now.Sub(*prefs.LastBackupTime) >= window
}

// RunOnce performs one scheduler tick. It serializes with concurrent ticks.
func (a *AutoBackup) RunOnce(ctx context.Context, now time.Time) (*ExportResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prefs, err := a.prefs.BackupPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("auto backup: %w", err)
	}
	if !Due(prefs, now) {
		a.logger.Debug("auto backup not due",
			"enabled", prefs.AutoBackupEnabled,
			"frequency", prefs.BackupFrequency,
		)
		return nil, nil
	}
	result, err := a.backups.ExportToFile(ctx, ExportRequest{})
	if err != nil {
		return nil, fmt.Errorf("auto backup: %w", err)
	}
	return result, nil
}

// Start runs ticks on the cron schedule until ctx is done or Stop is
// called.
func (a *AutoBackup) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: a.logger})))
	_, err := c.AddFunc(a.schedule, func() {
		tickCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		result, err := a.RunOnce(tickCtx, time.Now())
		if err != nil {
			a.logger.Error("auto backup failed", "error", err)
			return
		}
		if result != nil {
			a.logger.Info("auto backup written", "path", result.Path)
		}
	})
	if err != nil {
		return fmt.Errorf("auto backup: schedule: %w", err)
	}

	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()

	c.Start()
	a.logger.Info("auto backup scheduler started", "schedule", a.schedule)
	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running tick to finish.
func (a *AutoBackup) Stop() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// cronLogger routes cron's own messages into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
