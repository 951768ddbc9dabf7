package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestValidateSnapshotShapes(t *testing.T) {
	t.Parallel()

	invalid := []string{
		`{}`,
		`{"version":"1.0.0"}`,
		`{"version":"1.0.0","assessments":"not-an-array","evaluations":[]}`,
		`{"version":"1.0.0","assessments":[],"evaluations":null}`,
		`{"version":"","assessments":[],"evaluations":[]}`,
		`{"version":1,"assessments":[],"evaluations":[]}`,
		`[]`,
		`"1.0.0"`,
		`not json`,
		``,
	}
	for _, raw := range invalid {
		require.Falsef(t, ValidateSnapshot([]byte(raw)), "expected %q to be invalid", raw)
	}

	require.True(t, ValidateSnapshot([]byte(`{"version":"1.0.0","assessments":[],"evaluations":[]}`)))
	require.True(t, ValidateSnapshot([]byte(`{"version":"1.0.0","assessments":[{"id":7}],"evaluations":[42]}`)))
}

func TestSnapshotRoundTripIntoWipedStore(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()

	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("a1", 1000)))
	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("a2", 2000)))
	require.NoError(t, f.records.SaveEvaluation(ctx, richEvaluation("e1", "a1", 4, 3000)))
	require.NoError(t, f.records.SaveEvaluation(ctx, richEvaluation("e2", "gone", 1, 4000)))

	snapshot, err := f.backups.CreateBackup(ctx)
	require.NoError(t, err)
	require.Equal(t, SnapshotVersion, snapshot.Version)
	_, err = time.Parse(time.RFC3339, snapshot.Timestamp)
	require.NoError(t, err)

	wantAssessments := f.records.GetAssessments(ctx)
	wantEvaluations := f.records.GetEvaluations(ctx, "")

	cleared, err := f.backups.ClearAllData(ctx)
	require.NoError(t, err)
	require.Equal(t, &ClearResult{Assessments: 2, Evaluations: 2}, cleared)
	require.Empty(t, f.records.GetAssessments(ctx))
	require.Empty(t, f.records.GetEvaluations(ctx, ""))

	result, err := f.backups.RestoreBackup(ctx, snapshot)
	require.NoError(t, err)
	require.Equal(t, 2, result.Assessments)
	require.Equal(t, 2, result.Evaluations)

	require.Equal(t, wantAssessments, f.records.GetAssessments(ctx))
	require.Equal(t, wantEvaluations, f.records.GetEvaluations(ctx, ""))
}

func TestEncodedSnapshotUsesNativeArrays(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()
	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("a1", 1)))
	require.NoError(t, f.records.SaveEvaluation(ctx, richEvaluation("e1", "a1", 2, 2)))

	snapshot, err := f.backups.CreateBackup(ctx)
	require.NoError(t, err)
	payload, err := EncodeSnapshot(snapshot)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	assessments := doc["assessments"].([]any)
	first := assessments[0].(map[string]any)
	require.IsType(t, []any{}, first["paperImages"])
	require.IsType(t, []any{}, first["questions"])
	evaluation := doc["evaluations"].([]any)[0].(map[string]any)
	require.IsType(t, []any{}, evaluation["results"])
	require.IsType(t, []any{}, evaluation["pages"])

	settingsDoc := doc["settings"].(map[string]any)
	prefs := settingsDoc["backupPreferences"].(map[string]any)
	require.Equal(t, "manual", prefs["backupFrequency"])

	decoded, err := DecodeSnapshot(payload)
	require.NoError(t, err)
	require.Equal(t, snapshot.Assessments, decoded.Assessments)
}

func TestRestoreIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()
	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("a1", 1)))
	require.NoError(t, f.records.SaveEvaluation(ctx, richEvaluation("e1", "a1", 2, 2)))

	snapshot, err := f.backups.CreateBackup(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.backups.RestoreBackup(ctx, snapshot)
		require.NoError(t, err)
	}
	require.Len(t, f.records.GetAssessments(ctx), 1)
	require.Len(t, f.records.GetEvaluations(ctx, ""), 1)
}

func TestRestoreJSONRejectsInvalidWithoutWrites(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()

	raw := `{"version":"1.0.0","assessments":[{"id":"a1","title":"x","questions":[]}],"evaluations":"nope"}`
	_, err := f.backups.RestoreJSON(ctx, []byte(raw), nil)
	require.ErrorIs(t, err, ErrInvalidSnapshot)
	require.Empty(t, f.records.GetAssessments(ctx))

	_, err = f.backups.RestoreBackup(ctx, &Snapshot{Version: "1.0.0"})
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestRestoreStopsAtFirstBadRecordAndKeepsEarlierOnes(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()

	raw := `{
		"version": "1.0.0",
		"timestamp": "2026-01-01T00:00:00.000Z",
		"assessments": [
			{"id": "a1", "title": "ok", "questions": [{"id": "q1", "text": "t", "marks": 2, "type": "MCQ"}], "paperImages": [], "createdAt": 1},
			{"id": "a2", "title": "broken", "questions": "should be a list"},
			{"id": "a3", "title": "never reached", "questions": [], "createdAt": 3}
		],
		"evaluations": [
			{"id": "e1", "assessmentId": "a1", "totalMarks": 2, "obtainedMarks": 1, "results": [], "createdAt": 4}
		]
	}`
	result, err := f.backups.RestoreJSON(ctx, []byte(raw), nil)

	var partial *PartialRestoreError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, 1, partial.Applied)
	require.Equal(t, 4, partial.Total)
	require.Equal(t, RecordKindAssessment, partial.Kind)
	require.Equal(t, "a2", partial.ID)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, 1, result.Assessments)

	require.NotNil(t, f.records.GetAssessmentByID(ctx, "a1"))
	require.Nil(t, f.records.GetAssessmentByID(ctx, "a2"))
	require.Nil(t, f.records.GetAssessmentByID(ctx, "a3"))
	require.Empty(t, f.records.GetEvaluations(ctx, ""))
}

func TestRestoreAppliesBackupPreferences(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()

	raw := `{"version":"1.0.0","assessments":[],"evaluations":[],
		"settings":{"backupPreferences":{"autoBackupEnabled":true,"backupFrequency":"weekly","googleDriveConnected":false}}}`
	result, err := f.backups.RestoreJSON(ctx, []byte(raw), nil)
	require.NoError(t, err)
	require.True(t, result.PreferencesApplied)

	prefs, err := f.prefs.BackupPreferences(ctx)
	require.NoError(t, err)
	require.True(t, prefs.AutoBackupEnabled)
	require.Equal(t, settings.FrequencyWeekly, prefs.BackupFrequency)

	odd := `{"version":"1.0.0","assessments":[],"evaluations":[],
		"settings":{"backupPreferences":{"backupFrequency":"monthly","lastBackupTime":"2025-01-02 10:00","googleDriveEmail":"nope"}}}`
	result, err = f.backups.RestoreJSON(ctx, []byte(odd), nil)
	require.NoError(t, err)
	require.True(t, result.PreferencesApplied)

	prefs, err = f.prefs.BackupPreferences(ctx)
	require.NoError(t, err)
	require.Equal(t, settings.FrequencyManual, prefs.BackupFrequency)
	require.False(t, prefs.AutoBackupEnabled)
	require.Empty(t, prefs.GoogleDriveEmail)
	require.NotNil(t, prefs.LastBackupTime)
	require.True(t, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC).Equal(*prefs.LastBackupTime))
}

func TestRestoreTruncatesFractionalNumbers(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()

	raw := `{
		"version": "1.0.0",
		"assessments": [
			{"id": "a1", "title": "Fractions", "questions": [
				{"id": "q1", "text": "t", "marks": 2.9, "type": "MCQ"},
				{"id": "q2", "text": "u", "marks": "3", "type": "Descriptive"}
			], "paperImages": [], "createdAt": 1700000000000.75}
		],
		"evaluations": [
			{"id": "e1", "assessmentId": "a1", "totalMarks": 5.0, "obtainedMarks": 2.5,
			 "pages": [{"uri": "file:///scan/e1.jpg", "type": "answer", "marks": {"q1": 1.5}}],
			 "results": [{"questionId": "q1", "obtainedMarks": 1.99, "feedback": "", "studentAnswer": "x"}],
			 "createdAt": "1700000000001"}
		]
	}`
	result, err := f.backups.RestoreJSON(ctx, []byte(raw), nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Assessments)
	require.Equal(t, 1, result.Evaluations)

	assessment := f.records.GetAssessmentByID(ctx, "a1")
	require.NotNil(t, assessment)
	require.Equal(t, int64(1700000000000), assessment.CreatedAt)
	require.Len(t, assessment.Questions, 2)
	require.Equal(t, 2, assessment.Questions[0].Marks)
	require.Equal(t, 3, assessment.Questions[1].Marks)

	evaluations := f.records.GetEvaluations(ctx, "a1")
	require.Len(t, evaluations, 1)
	got := evaluations[0]
	require.Equal(t, 5, got.TotalMarks)
	require.Equal(t, 2, got.ObtainedMarks)
	require.Equal(t, int64(1700000000001), got.CreatedAt)
	require.Equal(t, 1, got.Results[0].ObtainedMarks)
	require.Equal(t, map[string]int{"q1": 1}, got.Pages[0].Marks)

	snapshot, err := DecodeSnapshot([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, 2, snapshot.Evaluations[0].ObtainedMarks)

	notNumeric := strings.Replace(raw, `"obtainedMarks": 2.5`, `"obtainedMarks": "lots"`, 1)
	_, err = f.backups.RestoreJSON(ctx, []byte(notNumeric), nil)
	var partial *PartialRestoreError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, RecordKindEvaluation, partial.Kind)
}

func TestRestoreHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	snapshot := &Snapshot{
		Version:     SnapshotVersion,
		Assessments: []storage.Assessment{*richAssessment("a1", 1)},
		Evaluations: []storage.Evaluation{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.backups.RestoreBackup(ctx, snapshot)
	var partial *PartialRestoreError
	require.ErrorAs(t, err, &partial)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, partial.Applied)
}

func TestExportImportPlainFile(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()
	fixed := time.Date(2026, 5, 17, 22, 10, 0, 0, time.UTC)
	f.backups.now = func() time.Time { return fixed }

	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("a1", 1)))
	require.NoError(t, f.records.SaveEvaluation(ctx, richEvaluation("e1", "a1", 2, 2)))

	exported, err := f.backups.ExportToFile(ctx, ExportRequest{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(f.sink.Dir, "checkerq_backup_2026-05-17.json"), exported.Path)
	require.False(t, exported.Encrypted)
	require.Equal(t, 1, exported.Assessments)
	require.Equal(t, 1, exported.Evaluations)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(exported.Path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	prefs, err := f.prefs.BackupPreferences(ctx)
	require.NoError(t, err)
	require.NotNil(t, prefs.LastBackupTime)
	require.True(t, fixed.Equal(*prefs.LastBackupTime))

	_, err = f.backups.ClearAllData(ctx)
	require.NoError(t, err)

	restored, err := f.backups.ImportFromFile(ctx, ImportRequest{Path: filepath.Base(exported.Path)})
	require.NoError(t, err)
	require.Equal(t, 1, restored.Assessments)
	require.Equal(t, 1, restored.Evaluations)
	require.NotNil(t, f.records.GetAssessmentByID(ctx, "a1"))
}

func TestExportImportEncryptedFile(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	ctx := context.Background()
	require.NoError(t, f.records.SaveAssessment(ctx, richAssessment("secret-a", 1)))

	exported, err := f.backups.ExportToFile(ctx, ExportRequest{Passphrase: []byte("correct horse")})
	require.NoError(t, err)
	require.True(t, exported.Encrypted)
	require.True(t, strings.HasSuffix(exported.Path, ".enc.json"))

	raw, err := os.ReadFile(exported.Path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret-a")

	_, err = f.backups.ClearAllData(ctx)
	require.NoError(t, err)

	_, err = f.backups.ImportFromFile(ctx, ImportRequest{Path: exported.Path})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.backups.ImportFromFile(ctx, ImportRequest{Path: exported.Path, Passphrase: []byte("wrong")})
	require.Error(t, err)
	require.Nil(t, f.records.GetAssessmentByID(ctx, "secret-a"))

	_, err = f.backups.ImportFromFile(ctx, ImportRequest{Path: exported.Path, Passphrase: []byte("correct horse")})
	require.NoError(t, err)
	require.NotNil(t, f.records.GetAssessmentByID(ctx, "secret-a"))
}

func TestImportMissingFileFails(t *testing.T) {
	t.Parallel()

	f := newAppFixture(t)
	_, err := f.backups.ImportFromFile(context.Background(), ImportRequest{Path: filepath.Join(f.dir, "nope.json")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCreateBackupFailsInsteadOfExportingEmptyView(t *testing.T) {
	t.Parallel()

	records := NewRecordService(failingOpener{err: errDiskGone}, discardLogger())
	backups := NewBackupService(BackupServiceOptions{Records: records, Logger: discardLogger()})

	_, err := backups.CreateBackup(context.Background())
	require.ErrorIs(t, err, errDiskGone)

	_, err = backups.ClearAllData(context.Background())
	require.ErrorIs(t, err, errDiskGone)
}

func TestExportRunsShareCommand(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("share command test uses a shell script")
	}

	f := newAppFixture(t)
	marker := filepath.Join(f.dir, "shared.txt")
	script := filepath.Join(f.dir, "share.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > "+marker+"\n"), 0o700))
	f.sink.ShareCommand = script

	exported, err := f.backups.ExportToFile(context.Background(), ExportRequest{Share: true})
	require.NoError(t, err)
	require.True(t, exported.Shared)

	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	require.Equal(t, exported.Path, strings.TrimSpace(string(got)))
}

func TestBackupFileName(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 23, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	require.Equal(t, "checkerq_backup_2026-01-02.json", BackupFileName(at, false))
	require.Equal(t, "checkerq_backup_2026-01-02.enc.json", BackupFileName(at, true))
}
