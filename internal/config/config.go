package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const (
	defaultSchemaPolicy  = string(storage.SchemaPolicyMigrate)
	defaultAutoSchedule  = "@hourly"
	defaultBackupTimeout = 5 * time.Minute
	defaultLogLevel      = "info"
	defaultLogMaxSizeMB  = 10
	defaultLogMaxFiles   = 5
	defaultEnvFile       = ".env"

	databaseFileName = "checkerq.db"
	settingsFileName = "settings.json"
	backupDirName    = "backups"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Backup   BackupConfig   `toml:"backup"`
	Settings SettingsConfig `toml:"settings"`
	Logging  LoggingConfig  `toml:"logging"`
}

type StorageConfig struct {
	Path         string `toml:"path"`
	SchemaPolicy string `toml:"schema_policy"`
}

type BackupConfig struct {
	Dir          string        `toml:"dir"`
	ShareCommand string        `toml:"share_command"`
	AutoSchedule string        `toml:"auto_schedule"`
	Timeout      time.Duration `toml:"timeout"`
}

type SettingsConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	PolicyPath string
	// EnvFile overrides CHECKERQ_ENV_FILE. Values from it rank below the
	// process environment.
	EnvFile string
	Env     map[string]string
	Flags   FlagOverrides
}

type FlagOverrides struct {
	DBPath       *string
	SchemaPolicy *string
	LogLevel     *string
}

type LoadReport struct {
	ConfigPath      string
	EnvFile         string
	PolicyOverrides []string
}

// DefaultConfig leaves the path fields empty; Load fills them in under the
// data home.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			SchemaPolicy: defaultSchemaPolicy,
		},
		Backup: BackupConfig{
			AutoSchedule: defaultAutoSchedule,
			Timeout:      defaultBackupTimeout,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

func Load(opts LoadOptions) (Config, LoadReport, error) {
	cfg := DefaultConfig()
	report := LoadReport{PolicyOverrides: []string{}}

	env, err := newEnvLayer(opts)
	if err != nil {
		return Config{}, report, err
	}
	report.EnvFile = env.dotenvPath

	configPath, err := resolveConfigPath(opts, env)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve config path: %w", err)
	}
	report.ConfigPath = configPath
	if err := loadAndApplyFile(configPath, &cfg, nil); err != nil {
		return Config{}, report, err
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, report, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	policyPath, err := resolvePolicyPath(opts, env)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve policy path: %w", err)
	}
	if err := loadAndApplyFile(policyPath, &cfg, &report.PolicyOverrides); err != nil {
		return Config{}, report, err
	}

	if err := fillPaths(&cfg, env); err != nil {
		return Config{}, report, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, report, err
	}

	return cfg, report, nil
}

type rawConfig struct {
	Storage  *rawStorage  `toml:"storage"`
	Backup   *rawBackup   `toml:"backup"`
	Settings *rawSettings `toml:"settings"`
	Logging  *rawLogging  `toml:"logging"`
}

type rawStorage struct {
	Path         *string `toml:"path"`
	SchemaPolicy *string `toml:"schema_policy"`
}

type rawBackup struct {
	Dir          *string `toml:"dir"`
	ShareCommand *string `toml:"share_command"`
	AutoSchedule *string `toml:"auto_schedule"`
	Timeout      *string `toml:"timeout"`
}

type rawSettings struct {
	Path *string `toml:"path"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config, policyOverrides *[]string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	return applyRawConfig(cfg, raw, policyOverrides)
}

func applyRawConfig(cfg *Config, raw rawConfig, policyOverrides *[]string) error {
	if raw.Storage != nil {
		setString("storage.path", raw.Storage.Path, &cfg.Storage.Path, policyOverrides)
		setString("storage.schema_policy", raw.Storage.SchemaPolicy, &cfg.Storage.SchemaPolicy, policyOverrides)
	}

	if raw.Backup != nil {
		setString("backup.dir", raw.Backup.Dir, &cfg.Backup.Dir, policyOverrides)
		setString("backup.share_command", raw.Backup.ShareCommand, &cfg.Backup.ShareCommand, policyOverrides)
		setString("backup.auto_schedule", raw.Backup.AutoSchedule, &cfg.Backup.AutoSchedule, policyOverrides)
		if err := setDuration("backup.timeout", raw.Backup.Timeout, &cfg.Backup.Timeout, policyOverrides); err != nil {
			return err
		}
	}

	if raw.Settings != nil {
		setString("settings.path", raw.Settings.Path, &cfg.Settings.Path, policyOverrides)
	}

	if raw.Logging != nil {
		setString("logging.level", raw.Logging.Level, &cfg.Logging.Level, policyOverrides)
		setString("logging.file", raw.Logging.File, &cfg.Logging.File, policyOverrides)
		setInt("logging.max_size_mb", raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB, policyOverrides)
		setInt("logging.max_files", raw.Logging.MaxFiles, &cfg.Logging.MaxFiles, policyOverrides)
	}

	return nil
}

func applyEnvOverrides(cfg *Config, env envLayer) error {
	if value, ok := env.lookup("CHECKERQ_DB_PATH"); ok {
		cfg.Storage.Path = value
	}
	if value, ok := env.lookup("CHECKERQ_SCHEMA_POLICY"); ok {
		cfg.Storage.SchemaPolicy = value
	}

	if value, ok := env.lookup("CHECKERQ_BACKUP_DIR"); ok {
		cfg.Backup.Dir = value
	}
	if value, ok := env.lookup("CHECKERQ_BACKUP_SHARE_COMMAND"); ok {
		cfg.Backup.ShareCommand = value
	}
	if value, ok := env.lookup("CHECKERQ_BACKUP_AUTO_SCHEDULE"); ok {
		cfg.Backup.AutoSchedule = value
	}
	if value, ok := env.lookup("CHECKERQ_BACKUP_TIMEOUT"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse CHECKERQ_BACKUP_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		cfg.Backup.Timeout = d
	}

	if value, ok := env.lookup("CHECKERQ_SETTINGS_PATH"); ok {
		cfg.Settings.Path = value
	}

	if value, ok := env.lookup("CHECKERQ_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := env.lookup("CHECKERQ_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := env.lookup("CHECKERQ_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse CHECKERQ_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := env.lookup("CHECKERQ_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse CHECKERQ_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}

	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	if flags.DBPath != nil {
		cfg.Storage.Path = *flags.DBPath
	}
	if flags.SchemaPolicy != nil {
		cfg.Storage.SchemaPolicy = *flags.SchemaPolicy
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
}

func fillPaths(cfg *Config, env envLayer) error {
	if cfg.Storage.Path != "" && cfg.Backup.Dir != "" && cfg.Settings.Path != "" {
		return nil
	}
	home, err := DataHome(env.lookup)
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(home, databaseFileName)
	}
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(home, backupDirName)
	}
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = filepath.Join(home, settingsFileName)
	}
	return nil
}

func validate(cfg Config) error {
	if _, err := storage.ParseSchemaPolicy(cfg.Storage.SchemaPolicy); err != nil {
		return fmt.Errorf("%w: storage.schema_policy: %v", ErrInvalidConfig, err)
	}
	if strings.TrimSpace(cfg.Backup.AutoSchedule) == "" {
		return fmt.Errorf("%w: backup.auto_schedule must not be empty", ErrInvalidConfig)
	}
	if cfg.Backup.Timeout <= 0 || cfg.Backup.Timeout > 24*time.Hour {
		return fmt.Errorf("%w: backup.timeout must be > 0 and <= 24h", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 || cfg.Logging.MaxFiles <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb and logging.max_files must be positive", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration, policyOverrides *[]string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	if policyOverrides != nil && *target != d {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = d
	return nil
}

func setString(field string, raw *string, target *string, policyOverrides *[]string) {
	if raw == nil {
		return
	}
	if policyOverrides != nil && *target != *raw {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = *raw
}

func setInt(field string, raw *int, target *int, policyOverrides *[]string) {
	if raw == nil {
		return
	}
	if policyOverrides != nil && *target != *raw {
		*policyOverrides = append(*policyOverrides, field)
	}
	*target = *raw
}

// envLayer resolves variables from explicit overrides, then the process
// environment, then the optional dotenv file.
type envLayer struct {
	explicit   map[string]string
	dotenv     map[string]string
	dotenvPath string
}

func newEnvLayer(opts LoadOptions) (envLayer, error) {
	layer := envLayer{explicit: opts.Env}

	path := opts.EnvFile
	explicitPath := path != ""
	if !explicitPath {
		if value, ok := layer.lookup("CHECKERQ_ENV_FILE"); ok && value != "" {
			path = value
			explicitPath = true
		} else {
			path = defaultEnvFile
		}
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicitPath {
			return layer, nil
		}
		return layer, fmt.Errorf("%w: read env file %q: %v", ErrInvalidConfig, path, err)
	}
	layer.dotenv = values
	layer.dotenvPath = path
	return layer, nil
}

func (e envLayer) lookup(key string) (string, bool) {
	if e.explicit != nil {
		if value, ok := e.explicit[key]; ok {
			return value, true
		}
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := e.dotenv[key]
	return value, ok
}

func resolveConfigPath(opts LoadOptions, env envLayer) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := env.lookup("CHECKERQ_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath(env.lookup)
}

func resolvePolicyPath(opts LoadOptions, env envLayer) (string, error) {
	if opts.PolicyPath != "" {
		return opts.PolicyPath, nil
	}
	if value, ok := env.lookup("CHECKERQ_POLICY_FILE"); ok {
		return value, nil
	}
	home, err := DataHome(env.lookup)
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "policy.toml"), nil
}

// DataHome is where the database, settings file and backups live unless
// configured otherwise. lookup may be nil to consult only os.LookupEnv.
func DataHome(lookup func(string) (string, bool)) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if value, ok := lookup("CHECKERQ_HOME"); ok && value != "" {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "checkerq"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookup("XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "checkerq"), nil
}

func defaultConfigPath(lookup func(string) (string, bool)) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "checkerq", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := lookup("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "checkerq", "config.toml"), nil
}
