package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigPrecedenceFlagOverEnv(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[storage]
path = "/data/file.db"
`)

	flagPath := "/data/flag.db"
	cfg, _, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_DB_PATH": "/data/env.db"}),
		Flags:      FlagOverrides{DBPath: &flagPath},
	})
	require.NoError(t, err)
	require.Equal(t, "/data/flag.db", cfg.Storage.Path)
}

func TestLoadConfigPrecedenceEnvOverFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[backup]
timeout = "10m"
`)

	cfg, _, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_BACKUP_TIMEOUT": "20m"}),
	})
	require.NoError(t, err)
	require.Equal(t, 20*time.Minute, cfg.Backup.Timeout)
}

func TestLoadConfigPrecedenceFileOverDefault(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[backup]
timeout = "10m"
`)

	cfg, _, err := Load(LoadOptions{ConfigPath: cfgPath, Env: isolatedEnv(t, nil)})
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.Backup.Timeout)
	require.Equal(t, defaultAutoSchedule, cfg.Backup.AutoSchedule)
	require.Equal(t, defaultSchemaPolicy, cfg.Storage.SchemaPolicy)
}

func TestLoadConfigFromTOMLParsesAllSupportedFields(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[storage]
path = "/srv/checkerq/grades.db"
schema_policy = "reset"

[backup]
dir = "/srv/checkerq/backups"
share_command = "rclone copy"
auto_schedule = "*/30 * * * *"
timeout = "90s"

[settings]
path = "/srv/checkerq/settings.json"

[logging]
level = "debug"
file = "/tmp/checkerq.log"
max_size_mb = 42
max_files = 9
`)

	cfg, _, err := Load(LoadOptions{ConfigPath: cfgPath, Env: isolatedEnv(t, nil)})
	require.NoError(t, err)
	require.Equal(t, "/srv/checkerq/grades.db", cfg.Storage.Path)
	require.Equal(t, "reset", cfg.Storage.SchemaPolicy)
	require.Equal(t, "/srv/checkerq/backups", cfg.Backup.Dir)
	require.Equal(t, "rclone copy", cfg.Backup.ShareCommand)
	require.Equal(t, "*/30 * * * *", cfg.Backup.AutoSchedule)
	require.Equal(t, 90*time.Second, cfg.Backup.Timeout)
	require.Equal(t, "/srv/checkerq/settings.json", cfg.Settings.Path)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "/tmp/checkerq.log", cfg.Logging.File)
	require.Equal(t, 42, cfg.Logging.MaxSizeMB)
	require.Equal(t, 9, cfg.Logging.MaxFiles)
}

func TestLoadConfigFillsPathsUnderDataHome(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, _, err := Load(LoadOptions{
		ConfigPath: filepath.Join(home, "absent.toml"),
		Env:        map[string]string{"CHECKERQ_HOME": home},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "checkerq.db"), cfg.Storage.Path)
	require.Equal(t, filepath.Join(home, "backups"), cfg.Backup.Dir)
	require.Equal(t, filepath.Join(home, "settings.json"), cfg.Settings.Path)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		contents string
	}{
		{name: "negative-timeout", contents: "[backup]\ntimeout = \"-1m\"\n"},
		{name: "timeout-over-24h", contents: "[backup]\ntimeout = \"25h\"\n"},
		{name: "unknown-policy", contents: "[storage]\nschema_policy = \"wipe\"\n"},
		{name: "empty-schedule", contents: "[backup]\nauto_schedule = \" \"\n"},
		{name: "bad-level", contents: "[logging]\nlevel = \"loud\"\n"},
		{name: "zero-files", contents: "[logging]\nmax_files = 0\n"},
		{name: "bad-toml", contents: "[storage\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfgPath := writeConfigFile(t, tt.contents)
			_, _, err := Load(LoadOptions{ConfigPath: cfgPath, Env: isolatedEnv(t, nil)})
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfigRejectsBadEnvNumbers(t *testing.T) {
	t.Parallel()

	_, _, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, ""),
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_LOG_MAX_FILES": "many"}),
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDotenvFileFeedsEnvLayer(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), "checkerq.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHECKERQ_LOG_LEVEL=warn\nCHECKERQ_BACKUP_DIR=/from/dotenv\n"), 0o600))

	cfg, report, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, "[logging]\nlevel = \"debug\"\n"),
		EnvFile:    envFile,
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_BACKUP_DIR": "/from/env"}),
	})
	require.NoError(t, err)
	require.Equal(t, envFile, report.EnvFile)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "/from/env", cfg.Backup.Dir)
}

func TestDotenvPathFromEnvMustExist(t *testing.T) {
	t.Parallel()

	_, _, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, ""),
		Env: isolatedEnv(t, map[string]string{
			"CHECKERQ_ENV_FILE": filepath.Join(t.TempDir(), "missing.env"),
		}),
	})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPolicyOverrideWinsAndIsReported(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfigFile(t, `
[backup]
share_command = "open"
`)
	policyPath := writePolicyFile(t, `
[backup]
share_command = "rclone copy"
`)

	cfg, report, err := Load(LoadOptions{
		ConfigPath: cfgPath,
		PolicyPath: policyPath,
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_BACKUP_SHARE_COMMAND": "xdg-open"}),
	})
	require.NoError(t, err)
	require.Equal(t, "rclone copy", cfg.Backup.ShareCommand)
	require.Contains(t, report.PolicyOverrides, "backup.share_command")
}

func TestMissingPolicyFileIsNotAnError(t *testing.T) {
	t.Parallel()

	cfg, report, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, "[backup]\ntimeout = \"15m\"\n"),
		PolicyPath: filepath.Join(t.TempDir(), "missing-policy.toml"),
		Env:        isolatedEnv(t, nil),
	})
	require.NoError(t, err)
	require.NotNil(t, report.PolicyOverrides)
	require.Equal(t, 15*time.Minute, cfg.Backup.Timeout)
}

func TestLoadPolicyPathFromEnv(t *testing.T) {
	t.Parallel()

	policyPath := writePolicyFile(t, "[storage]\nschema_policy = \"reset\"\n")

	cfg, _, err := Load(LoadOptions{
		ConfigPath: writeConfigFile(t, ""),
		Env:        isolatedEnv(t, map[string]string{"CHECKERQ_POLICY_FILE": policyPath}),
	})
	require.NoError(t, err)
	require.Equal(t, "reset", cfg.Storage.SchemaPolicy)
}

// isolatedEnv pins CHECKERQ_HOME to a temp dir so defaults never touch the
// real user profile.
func isolatedEnv(t *testing.T, extra map[string]string) map[string]string {
	t.Helper()

	env := map[string]string{"CHECKERQ_HOME": t.TempDir()}
	for k, v := range extra {
		env[k] = v
	}
	return env
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}

func writePolicyFile(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}
