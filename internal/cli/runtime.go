package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/inzamrzn918/checkerq-sub000/internal/app"
	"github.com/inzamrzn918/checkerq-sub000/internal/config"
	logpkg "github.com/inzamrzn918/checkerq-sub000/internal/log"
	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const maxInputSize = 64 << 20

// runtime is everything a command needs, built from config at the
// application root.
type runtime struct {
	cfg     config.Config
	report  config.LoadReport
	logger  *slog.Logger
	handle  *storage.Handle
	records *app.RecordService
	store   *settings.FileStore
	prefs   *settings.Preferences
	sink    *app.DirSink
	backups *app.BackupService
	closers []io.Closer
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadConfig(globals *GlobalOptions) (config.Config, config.LoadReport, error) {
	opts := config.LoadOptions{}
	if globals != nil {
		if configPath := strings.TrimSpace(globals.ConfigPath); configPath != "" {
			opts.ConfigPath = configPath
		}
		if dbPath := strings.TrimSpace(globals.DBPath); dbPath != "" {
			opts.Flags.DBPath = &dbPath
		}
		if policy := strings.TrimSpace(globals.SchemaPolicy); policy != "" {
			opts.Flags.SchemaPolicy = &policy
		}
		if level := strings.TrimSpace(globals.LogLevel); level != "" {
			opts.Flags.LogLevel = &level
		}
	}
	cfg, report, err := config.Load(opts)
	if err != nil {
		return config.Config{}, report, fmt.Errorf("load config: %w", err)
	}
	return cfg, report, nil
}

func openRuntime(deps commandDeps) (*runtime, error) {
	cfg, report, err := loadConfig(deps.globals)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logpkg.New(logpkg.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Stderr:    deps.errOut,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: logging: %v", config.ErrInvalidConfig, err)
	}

	policy, err := storage.ParseSchemaPolicy(cfg.Storage.SchemaPolicy)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	handle := storage.NewHandle(storage.HandleOptions{
		Path:   cfg.Storage.Path,
		Policy: policy,
		Logger: logger,
	})

	records := app.NewRecordService(handle, logger)
	store := settings.NewFileStore(cfg.Settings.Path)
	prefs := settings.NewPreferences(store)
	sink := app.NewDirSink(cfg.Backup.Dir, cfg.Backup.ShareCommand)
	backups := app.NewBackupService(app.BackupServiceOptions{
		Records:     records,
		Preferences: prefs,
		Sink:        sink,
		Logger:      logger,
	})

	return &runtime{
		cfg:     cfg,
		report:  report,
		logger:  logger,
		handle:  handle,
		records: records,
		store:   store,
		prefs:   prefs,
		sink:    sink,
		backups: backups,
		closers: []io.Closer{logCloser, handle},
	}, nil
}

// withRuntime opens the runtime, bounds fn by the --timeout flag, and maps
// whatever fn returns onto an exit code.
func withRuntime(cmdCtx context.Context, deps commandDeps, fn func(context.Context, *runtime) error) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(cmdCtx, commandTimeout(deps.globals))
	defer cancel()

	rt, err := openRuntime(deps)
	if err != nil {
		return mapCommandError(err)
	}
	err = fn(ctx, rt)
	if closeErr := rt.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close runtime: %w", closeErr)
	}
	return mapCommandError(err)
}

func commandTimeout(globals *GlobalOptions) time.Duration {
	if globals != nil && globals.Timeout > 0 {
		return globals.Timeout
	}
	return defaultCommandTimeout
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// emit prints value as JSON under --json, nothing under --quiet, and the
// text produced by human otherwise.
func emit(deps commandDeps, value any, human func(io.Writer) error) error {
	if deps.globals.JSON {
		return printJSON(deps.out, value)
	}
	if deps.globals.Quiet {
		return nil
	}
	return human(deps.out)
}

// readInput reads a JSON document from path, or from in when path is "-".
func readInput(in io.Reader, path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = in
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, usageErrorf("input exceeds %d bytes", maxInputSize)
	}
	return data, nil
}

func decodeInput(in io.Reader, path string, dst any) error {
	data, err := readInput(in, path)
	if err != nil {
		return err
	}
	if err := app.DecodeRecord(data, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", app.ErrValidation, inputName(path), err)
	}
	return nil
}

func inputName(path string) string {
	if path == "-" {
		return "stdin"
	}
	return path
}

type passphraseInput struct {
	value string
	stdin bool
}

// resolve returns the passphrase bytes; the caller wipes them. An empty
// result means no passphrase was supplied.
func (p passphraseInput) resolve(in io.Reader, command string) ([]byte, error) {
	if p.value != "" && p.stdin {
		return nil, usageErrorf("%s accepts only one of --passphrase and --passphrase-stdin", command)
	}
	if p.value != "" {
		return []byte(p.value), nil
	}
	if !p.stdin {
		return nil, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, mapCommandError(fmt.Errorf("%s: read passphrase from stdin: %w", command, err))
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, usageErrorf("%s --passphrase-stdin requires a non-empty value on stdin", command)
	}
	return []byte(line), nil
}

func wipe(b []byte) {
	if len(b) > 0 {
		memguard.WipeBytes(b)
	}
}

func requireYes(deps commandDeps, action string) error {
	if deps.globals != nil && deps.globals.Yes {
		return nil
	}
	return usageErrorf("%s is destructive; re-run with --yes", action)
}

func boolToState(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
