package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inzamrzn918/checkerq-sub000/internal/app"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const testAssessmentJSON = `{
  "id": "a1",
  "title": "Chemistry unit test",
  "teacherName": "M. Iyer",
  "subject": "Chemistry",
  "classRoom": "9-A",
  "paperImages": ["file:///paper/a1.jpg"],
  "createdAt": 1718000000000,
  "questions": [
    {"id": "q1", "text": "Name a noble gas.", "marks": 2, "type": "FillInBlanks"},
    {"id": "q2", "text": "Pick the acid.", "marks": 3, "type": "MCQ", "options": ["NaOH", "HCl"]}
  ]
}`

func testEvaluationJSON(id, student string, obtained int) string {
	return fmt.Sprintf(`{
  "id": %q,
  "assessmentId": "a1",
  "studentName": %q,
  "totalMarks": 5,
  "obtainedMarks": %d,
  "overallFeedback": "Keep going",
  "results": [{"questionId": "q1", "obtainedMarks": 2, "feedback": "Right", "studentAnswer": "Neon"}],
  "createdAt": 1718000100000
}`, id, student, obtained)
}

type cliEnv struct {
	dir        string
	configPath string
	dbPath     string
	backupDir  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		dbPath:     filepath.Join(dir, "checkerq.db"),
		backupDir:  filepath.Join(dir, "backups"),
	}
	contents := fmt.Sprintf(`[storage]
path = %q

[backup]
dir = %q
auto_schedule = "@daily"

[settings]
path = %q

[logging]
level = "error"
`, env.dbPath, env.backupDir, filepath.Join(dir, "settings.json"))
	require.NoError(t, os.WriteFile(env.configPath, []byte(contents), 0o600))
	return env
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, stdin, append([]string{"--config", e.configPath}, args...)...)
}

func (e *cliEnv) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := e.run(t, stdin, args...)
	require.NoError(t, err, out)
	return out
}

func (e *cliEnv) writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func (e *cliEnv) seed(t *testing.T) {
	t.Helper()
	e.mustRun(t, testAssessmentJSON, "assessment", "save", "--file", "-")
	e.mustRun(t, "", "evaluation", "save", "--file", e.writeFile(t, "e1.json", testEvaluationJSON("e1", "Asha", 4)))
	e.mustRun(t, "", "evaluation", "save", "--file", e.writeFile(t, "e2.json", testEvaluationJSON("e2", "Ravi", 2)))
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	out, err := runCLI(t, "", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	out, err := runCLI(t, "", "--json", "version")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, "1.2.3", payload.Version)
	require.Equal(t, "abc123", payload.Commit)
}

func TestRootHasRequiredGlobalFlagsAndCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"json", "quiet", "config", "db", "schema-policy", "log-level", "timeout", "yes"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
	for _, path := range [][]string{
		{"assessment", "list"}, {"assessment", "show"}, {"assessment", "save"}, {"assessment", "delete"},
		{"evaluation", "list"}, {"evaluation", "save"}, {"evaluation", "delete"}, {"evaluation", "report"},
		{"evaluation", "adjust"},
		{"backup", "create"}, {"backup", "export"}, {"backup", "import"}, {"backup", "restore"},
		{"backup", "clear"}, {"backup", "auto"},
		{"analytics", "classes"}, {"analytics", "questions"}, {"analytics", "student"},
		{"analytics", "top"}, {"analytics", "subjects"},
		{"settings", "prefs"}, {"settings", "keys", "status"},
		{"doctor"}, {"version"},
	} {
		found, _, err := cmd.Find(path)
		require.NoErrorf(t, err, "expected command %v", path)
		require.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestGenerateManPagesCoversSubcommands(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, GenerateManPages(dir, testBuildInfo()))
	for _, page := range []string{"checkerq.1", "checkerq-backup-export.1", "checkerq-analytics-top.1"} {
		require.FileExists(t, filepath.Join(dir, page))
	}
	raw, err := os.ReadFile(filepath.Join(dir, "checkerq.1"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "CHECKERQ")
}

func TestVersionRejectsArguments(t *testing.T) {
	_, err := runCLI(t, "", "version", "extra")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	_, err := runCLI(t, "", "--no-such-flag")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestAssessmentLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, testAssessmentJSON, "assessment", "save", "--file", "-")
	require.Contains(t, out, "assessment saved: a1 (2 questions)")

	out = env.mustRun(t, "", "--json", "assessment", "list")
	var listed []storage.Assessment
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "Chemistry unit test", listed[0].Title)
	require.Equal(t, []string{"NaOH", "HCl"}, listed[0].Questions[1].Options)

	out = env.mustRun(t, "", "assessment", "show", "a1")
	require.Contains(t, out, "1. [FillInBlanks, 2] Name a noble gas.")
	require.Contains(t, out, "- HCl")

	env.mustRun(t, "", "assessment", "delete", "a1")
	_, err := env.run(t, "", "assessment", "show", "a1")
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = env.run(t, "", "assessment", "show")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestAssessmentSaveRejectsInvalidInput(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, `{"id":"bad","questions":[{"id":"q1","type":"Essay"}]}`, "assessment", "save", "--file", "-")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	_, err = env.run(t, `{not json`, "assessment", "save", "--file", "-")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	_, err = env.run(t, "", "assessment", "save", "--file", filepath.Join(env.dir, "missing.json"))
	require.Equal(t, ExitCodeIO, exitCode(err))

	_, err = env.run(t, "", "assessment", "save")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestEvaluationCommandsAndReport(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "", "--json", "evaluation", "list", "--assessment", "a1")
	var listed []storage.Evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 2)
	require.Equal(t, storage.EvaluationStatusCompleted, listed[0].Status)

	clamped := `{"id":"e3","assessmentId":"a1","totalMarks":5,"obtainedMarks":9,"results":[]}`
	out = env.mustRun(t, clamped, "--json", "evaluation", "save", "--file", "-")
	var saved map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &saved))
	require.InDelta(t, 5, saved["obtainedMarks"], 0)

	pdfPath := filepath.Join(env.dir, "reports", "e1.pdf")
	env.mustRun(t, "", "evaluation", "report", "e1", "--output", pdfPath)
	data, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	_, err = env.run(t, "", "evaluation", "report", "nope", "--output", pdfPath)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	env.mustRun(t, "", "evaluation", "delete", "e3")
	_, err = env.run(t, `{"id":"e9"}`, "evaluation", "save", "--file", "-")
	require.Equal(t, ExitCodeInvalid, exitCode(err))
}

func TestBackupCreateClearRestoreRoundTrip(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	before := env.mustRun(t, "", "--json", "evaluation", "list")
	snapshot := env.mustRun(t, "", "backup", "create")
	require.True(t, app.ValidateSnapshot([]byte(snapshot)))

	_, err := env.run(t, "", "backup", "clear")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	out := env.mustRun(t, "", "--yes", "--json", "backup", "clear")
	var cleared app.ClearResult
	require.NoError(t, json.Unmarshal([]byte(out), &cleared))
	require.Equal(t, app.ClearResult{Assessments: 1, Evaluations: 2}, cleared)
	require.Equal(t, "[]\n", env.mustRun(t, "", "--json", "assessment", "list"))

	out = env.mustRun(t, snapshot, "--json", "backup", "restore", "--file", "-")
	var restored app.RestoreResult
	require.NoError(t, json.Unmarshal([]byte(out), &restored))
	require.Equal(t, 1, restored.Assessments)
	require.Equal(t, 2, restored.Evaluations)
	require.JSONEq(t, before, env.mustRun(t, "", "--json", "evaluation", "list"))
}

func TestBackupRestoreErrorsMapToExitCodes(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, `{"version":"1.0.0","assessments":"nope","evaluations":[]}`, "backup", "restore", "--file", "-")
	require.Equal(t, ExitCodeInvalid, exitCode(err))
	require.ErrorIs(t, err, app.ErrInvalidSnapshot)

	partial := `{"version":"1.0.0","timestamp":"2026-06-10T00:00:00Z",
  "assessments":[{"id":"ok","questions":[]},{"id":"bad","questions":[{"id":"q","type":"Essay"}]}],
  "evaluations":[]}`
	_, err = env.run(t, partial, "backup", "restore", "--file", "-")
	require.Equal(t, ExitCodePartialRestore, exitCode(err))
	var partialErr *app.PartialRestoreError
	require.ErrorAs(t, err, &partialErr)
	require.Equal(t, 1, partialErr.Applied)
	require.Equal(t, "bad", partialErr.ID)

	_, err = env.run(t, "", "backup", "restore", "--file", "-", "--passphrase-stdin")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestBackupEncryptedExportImport(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "correct horse\n", "--json", "backup", "export", "--passphrase-stdin")
	var exported app.ExportResult
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	require.True(t, exported.Encrypted)
	require.Equal(t, env.backupDir, filepath.Dir(exported.Path))
	require.True(t, strings.HasSuffix(exported.Path, ".enc.json"))

	raw, err := os.ReadFile(exported.Path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "Asha")

	env.mustRun(t, "", "--yes", "backup", "clear")

	_, err = env.run(t, "", "backup", "import", exported.Path)
	require.Equal(t, ExitCodeInvalid, exitCode(err))
	_, err = env.run(t, "", "backup", "import", exported.Path, "--passphrase", "wrong")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	out = env.mustRun(t, "", "backup", "import", filepath.Base(exported.Path), "--passphrase", "correct horse")
	require.Contains(t, out, "restored: 1 assessments, 2 evaluations")

	_, err = env.run(t, "", "backup", "import", "checkerq_backup_1999-01-01.json")
	require.Equal(t, ExitCodeIO, exitCode(err))
}

func TestBackupAutoOnceHonorsPreferences(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "", "backup", "auto", "--once")
	require.Contains(t, out, "not due")

	env.mustRun(t, "", "settings", "prefs", "--auto-backup", "--frequency", "daily")
	out = env.mustRun(t, "", "--json", "backup", "auto", "--once")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, true, payload["exported"])
	require.FileExists(t, payload["path"].(string))

	out = env.mustRun(t, "", "backup", "auto", "--once")
	require.Contains(t, out, "not due")
}

func TestAnalyticsCommands(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "", "--json", "analytics", "classes")
	var classes []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &classes))
	require.Len(t, classes, 1)
	require.Equal(t, "9-A", classes[0]["className"])
	require.InDelta(t, 60.0, classes[0]["averageScore"], 0.001)
	require.InDelta(t, 50.0, classes[0]["passRate"], 0.001)

	out = env.mustRun(t, "", "--json", "analytics", "top", "--limit", "1")
	var top []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &top))
	require.Len(t, top, 1)
	require.Equal(t, "Asha", top[0]["name"])

	out = env.mustRun(t, "", "analytics", "questions", "a1")
	require.Contains(t, out, "q1")
	require.Contains(t, out, "Easy")

	out = env.mustRun(t, "", "analytics", "subjects")
	require.Contains(t, out, "Chemistry")

	out = env.mustRun(t, "", "analytics", "student", "Asha")
	require.Contains(t, out, "Asha: average 80.0%, trend stable")

	_, err := env.run(t, "", "analytics", "student", "Nobody")
	require.Equal(t, ExitCodeNotFound, exitCode(err))
	_, err = env.run(t, "", "analytics", "questions", "missing")
	require.Equal(t, ExitCodeNotFound, exitCode(err))
}

func TestSettingsPrefsAndKeys(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "", "settings", "prefs")
	require.Contains(t, out, "auto_backup=off frequency=manual last_backup=never")

	_, err := env.run(t, "", "settings", "prefs", "--frequency", "hourly")
	require.Equal(t, ExitCodeInvalid, exitCode(err))
	_, err = env.run(t, "", "settings", "prefs", "--drive-email", "not-an-email")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	env.mustRun(t, "", "settings", "prefs", "--auto-backup", "--frequency", "weekly", "--drive-email", "teacher@example.com")
	out = env.mustRun(t, "", "settings", "prefs")
	require.Contains(t, out, "auto_backup=on frequency=weekly")
	require.Contains(t, out, "drive=teacher@example.com")

	out = env.mustRun(t, "", "--json", "settings", "keys", "status")
	require.JSONEq(t, `{"gemini":false,"mistral":false,"ready":false}`, out)

	env.mustRun(t, "", "settings", "keys", "set", "--gemini", "AIza-test-key")
	out = env.mustRun(t, "", "settings", "keys", "status")
	require.Contains(t, out, "gemini=set mistral=unset ready=yes")
	require.NotContains(t, out, "AIza-test-key")

	_, err = env.run(t, "", "settings", "keys", "clear")
	require.Equal(t, ExitCodeUsage, exitCode(err))
	env.mustRun(t, "", "--yes", "settings", "keys", "clear")
	out = env.mustRun(t, "", "settings", "keys", "status")
	require.Contains(t, out, "gemini=unset")
}

func TestDoctorReportsChecksAndWritesBundle(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	bundlePath := filepath.Join(env.dir, "debug", "bundle.json")
	out := env.mustRun(t, "", "--json", "doctor", "--bundle", bundlePath)

	var payload struct {
		Checks []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	names := map[string]bool{}
	for _, check := range payload.Checks {
		names[check.Name] = check.OK
	}
	require.Equal(t, map[string]bool{"config": true, "storage": true, "settings": true, "api_keys": true, "backup_dir": true}, names)

	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"evaluations": 2`)
	require.NotContains(t, string(raw), "Asha")
}

func TestDoctorFailsOnBadConfig(t *testing.T) {
	env := newCLIEnv(t)
	badConfig := env.writeFile(t, "bad.toml", "[storage]\nschema_policy = \"wipe\"\n")

	out, err := runCLI(t, "", "--config", badConfig, "doctor")
	require.Equal(t, ExitCodeGeneric, exitCode(err))
	require.Contains(t, out, "config: fail")
}

func TestDBFlagOverridesConfig(t *testing.T) {
	env := newCLIEnv(t)
	other := filepath.Join(env.dir, "other.db")

	env.mustRun(t, testAssessmentJSON, "--db", other, "assessment", "save", "--file", "-")
	require.FileExists(t, other)
	require.Equal(t, "[]\n", env.mustRun(t, "", "--json", "assessment", "list"))
}

func TestEvaluationAdjustClampsAndRecomputes(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t)

	out := env.mustRun(t, "", "--json", "evaluation", "adjust", "e1", "q1", "10")
	var adjusted storage.Evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &adjusted))
	require.Equal(t, 2, adjusted.ObtainedMarks)
	require.Equal(t, 2, adjusted.Results[0].ObtainedMarks)

	out = env.mustRun(t, "", "evaluation", "adjust", "e1", "q1", "1")
	require.Equal(t, "evaluation e1: 1/5 marks\n", out)

	_, err := env.run(t, "", "evaluation", "adjust", "e1", "q9", "1")
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = env.run(t, "", "evaluation", "adjust", "missing", "q1", "1")
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = env.run(t, "", "evaluation", "adjust", "e1", "q1", "ten")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = env.run(t, "", "evaluation", "adjust", "e1", "q1")
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestEvaluationSaveTruncatesFractionalMarks(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, testAssessmentJSON, "assessment", "save", "--file", "-")

	fractional := strings.Replace(testEvaluationJSON("e3", "Meera", 0), `"obtainedMarks": 0`, `"obtainedMarks": 2.5`, 1)
	env.mustRun(t, fractional, "evaluation", "save", "--file", "-")

	out := env.mustRun(t, "", "--json", "evaluation", "list")
	var list []storage.Evaluation
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	require.Equal(t, 2, list[0].ObtainedMarks)
}

func TestSchemaPolicyAndLogLevelFlagsOverrideConfig(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "--schema-policy", "wipe", "assessment", "list")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	_, err = env.run(t, "", "--log-level", "loud", "assessment", "list")
	require.Equal(t, ExitCodeInvalid, exitCode(err))

	bundlePath := filepath.Join(env.dir, "bundle.json")
	env.mustRun(t, "", "--schema-policy", "reset", "--log-level", "debug", "doctor", "--bundle", bundlePath)
	raw, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"schema_policy": "reset"`)
}

func TestMapCommandError(t *testing.T) {
	require.Nil(t, mapCommandError(nil))
	require.Equal(t, ExitCodeNotFound, exitCode(mapCommandError(fmt.Errorf("x: %w", storage.ErrNotFound))))
	require.Equal(t, ExitCodeInvalid, exitCode(mapCommandError(&app.WriteError{Op: "save", Err: app.ErrValidation})))
	require.Equal(t, ExitCodePartialRestore, exitCode(mapCommandError(&app.PartialRestoreError{Err: errors.New("boom")})))
	require.Equal(t, ExitCodeIO, exitCode(mapCommandError(&storage.SchemaError{Path: "x", Err: errors.New("disk")})))
	require.Equal(t, ExitCodeGeneric, exitCode(mapCommandError(errors.New("other"))))
	require.Equal(t, ExitCodeUsage, exitCode(mapCommandError(usageErrorf("bad"))))
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}
