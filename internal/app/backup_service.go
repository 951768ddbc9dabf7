package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inzamrzn918/checkerq-sub000/internal/crypto"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

type BackupServiceOptions struct {
	Records     *RecordService
	Preferences PreferenceStore
	Sink        FileSink
	Logger      *slog.Logger
	// KDFParams seal encrypted exports. Zero means crypto.DefaultArgon2Params.
	KDFParams crypto.Argon2Params
	Now       func() time.Time
}

// BackupService builds, exports, imports and replays snapshots. Every
// record write goes through the RecordService.
type BackupService struct {
	records *RecordService
	prefs   PreferenceStore
	sink    FileSink
	logger  *slog.Logger
	kdf     crypto.Argon2Params
	now     func() time.Time
}

func NewBackupService(opts BackupServiceOptions) *BackupService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kdf := opts.KDFParams
	if kdf == (crypto.Argon2Params{}) {
		kdf = crypto.DefaultArgon2Params()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &BackupService{
		records: opts.Records,
		prefs:   opts.Preferences,
		sink:    opts.Sink,
		logger:  logger,
		kdf:     kdf,
		now:     now,
	}
}

// CreateBackup reads the whole dataset into a snapshot. It writes nothing.
func (s *BackupService) CreateBackup(ctx context.Context) (*Snapshot, error) {
	if s == nil || s.records == nil {
		return nil, fmt.Errorf("create backup: record service is nil")
	}
	assessments, err := s.records.ListAssessments(ctx)
	if err != nil {
		return nil, fmt.Errorf("create backup: list assessments: %w", err)
	}
	evaluations, err := s.records.ListEvaluations(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("create backup: list evaluations: %w", err)
	}

	snapshot := &Snapshot{
		Version:     SnapshotVersion,
		Timestamp:   s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Assessments: assessments,
		Evaluations: evaluations,
	}
	if s.prefs != nil {
		prefs, err := s.prefs.BackupPreferences(ctx)
		if err != nil {
			s.logger.Warn("backup preferences unavailable; exporting without them", "error", err)
		} else if raw, err := json.Marshal(prefs); err == nil {
			snapshot.Settings.BackupPreferences = raw
		}
	}
	return snapshot, nil
}

// ExportToFile writes checkerq_backup_YYYY-MM-DD.json through the sink,
// optionally sealed under a passphrase, and records the backup time.
func (s *BackupService) ExportToFile(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("export backup: file sink is nil")
	}
	snapshot, err := s.CreateBackup(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("export backup: %w", err)
	}

	encrypted := len(req.Passphrase) > 0
	if encrypted {
		payload, err = SealSnapshot(payload, req.Passphrase, s.kdf)
		if err != nil {
			return nil, fmt.Errorf("export backup: %w", err)
		}
	}

	now := s.now()
	path, err := s.sink.Write(ctx, BackupFileName(now, encrypted), payload)
	if err != nil {
		return nil, fmt.Errorf("export backup: %w", err)
	}

	result := &ExportResult{
		Path:        path,
		Encrypted:   encrypted,
		Assessments: len(snapshot.Assessments),
		Evaluations: len(snapshot.Evaluations),
	}
	if req.Share {
		shared, err := s.sink.Share(ctx, path)
		if err != nil {
			return result, fmt.Errorf("export backup: %w", err)
		}
		result.Shared = shared
	}

	if s.prefs != nil {
		if err := s.prefs.UpdateLastBackupTime(ctx, now); err != nil {
			s.logger.Warn("record last backup time", "error", err)
		}
	}
	s.logger.Info("backup exported",
		"path", path,
		"encrypted", encrypted,
		"assessments", result.Assessments,
		"evaluations", result.Evaluations,
	)
	return result, nil
}

// BackupFileName is the export file name for the UTC date of at.
func BackupFileName(at time.Time, encrypted bool) string {
	day := at.UTC().Format("2006-01-02")
	if encrypted {
		return "checkerq_backup_" + day + ".enc.json"
	}
	return "checkerq_backup_" + day + ".json"
}

// ImportFromFile reads a snapshot through the sink and restores it. An
// encrypted file needs the passphrase it was sealed with.
func (s *BackupService) ImportFromFile(ctx context.Context, req ImportRequest) (*RestoreResult, error) {
	if s.sink == nil {
		return nil, fmt.Errorf("import backup: file sink is nil")
	}
	raw, err := s.sink.Read(ctx, req.Path)
	if err != nil {
		return nil, fmt.Errorf("import backup: %w", err)
	}
	return s.RestoreJSON(ctx, raw, req.Passphrase)
}

// RestoreJSON validates raw and replays it. Invalid input is rejected with
// ErrInvalidSnapshot before anything is written.
func (s *BackupService) RestoreJSON(ctx context.Context, raw, passphrase []byte) (*RestoreResult, error) {
	plain, sealed, err := OpenSnapshot(raw, passphrase)
	if err != nil {
		if errors.Is(err, crypto.ErrPassphraseRequired) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}
	if sealed {
		s.logger.Debug("snapshot envelope opened")
	}

	snapshot, err := decodeRawSnapshot(plain)
	if err != nil {
		s.logger.Error("snapshot rejected", "error", err)
		return nil, err
	}
	if snapshot.Version != SnapshotVersion {
		s.logger.Warn("restoring snapshot with different version", "version", snapshot.Version, "expected", SnapshotVersion)
	}

	records := make([]restoreRecord, 0, len(snapshot.Assessments)+len(snapshot.Evaluations)+1)
	for i, item := range snapshot.Assessments {
		item := item
		records = append(records, restoreRecord{
			kind: RecordKindAssessment,
			id:   recordID(item, i),
			apply: func(ctx context.Context) error {
				var assessment storage.Assessment
				if err := DecodeRecord(item, &assessment); err != nil {
					return fmt.Errorf("%w: decode assessment: %v", ErrValidation, err)
				}
				return s.records.SaveAssessment(ctx, &assessment)
			},
		})
	}
	for i, item := range snapshot.Evaluations {
		item := item
		records = append(records, restoreRecord{
			kind: RecordKindEvaluation,
			id:   recordID(item, i),
			apply: func(ctx context.Context) error {
				var evaluation storage.Evaluation
				if err := DecodeRecord(item, &evaluation); err != nil {
					return fmt.Errorf("%w: decode evaluation: %v", ErrValidation, err)
				}
				return s.records.SaveEvaluation(ctx, &evaluation)
			},
		})
	}
	records = s.appendPreferences(records, snapshot.Preferences)

	return s.replay(ctx, records)
}

// RestoreBackup replays an in-memory snapshot: assessments in order, then
// evaluations, then backup preferences. It stops at the first failing
// record and does not undo earlier ones.
func (s *BackupService) RestoreBackup(ctx context.Context, snapshot *Snapshot) (*RestoreResult, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot is nil", ErrInvalidSnapshot)
	}
	if snapshot.Version == "" || snapshot.Assessments == nil || snapshot.Evaluations == nil {
		return nil, fmt.Errorf("%w: version, assessments and evaluations are required", ErrInvalidSnapshot)
	}

	records := make([]restoreRecord, 0, len(snapshot.Assessments)+len(snapshot.Evaluations)+1)
	for i := range snapshot.Assessments {
		assessment := snapshot.Assessments[i]
		records = append(records, restoreRecord{
			kind: RecordKindAssessment,
			id:   assessment.ID,
			apply: func(ctx context.Context) error {
				return s.records.SaveAssessment(ctx, &assessment)
			},
		})
	}
	for i := range snapshot.Evaluations {
		evaluation := snapshot.Evaluations[i]
		records = append(records, restoreRecord{
			kind: RecordKindEvaluation,
			id:   evaluation.ID,
			apply: func(ctx context.Context) error {
				return s.records.SaveEvaluation(ctx, &evaluation)
			},
		})
	}
	records = s.appendPreferences(records, snapshot.Settings.BackupPreferences)

	return s.replay(ctx, records)
}

// ClearAllData deletes every evaluation, then every assessment. Evaluations
// go first because assessment deletion never reaches them.
func (s *BackupService) ClearAllData(ctx context.Context) (*ClearResult, error) {
	evaluations, err := s.records.ListEvaluations(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("clear data: list evaluations: %w", err)
	}
	assessments, err := s.records.ListAssessments(ctx)
	if err != nil {
		return nil, fmt.Errorf("clear data: list assessments: %w", err)
	}

	result := &ClearResult{}
	for _, evaluation := range evaluations {
		if err := s.records.DeleteEvaluation(ctx, evaluation.ID); err != nil {
			return result, fmt.Errorf("clear data: %w", err)
		}
		result.Evaluations++
	}
	for _, assessment := range assessments {
		if err := s.records.DeleteAssessment(ctx, assessment.ID); err != nil {
			return result, fmt.Errorf("clear data: %w", err)
		}
		result.Assessments++
	}
	s.logger.Info("all data cleared", "assessments", result.Assessments, "evaluations", result.Evaluations)
	return result, nil
}

type restoreRecord struct {
	kind  RecordKind
	id    string
	apply func(ctx context.Context) error
}

func (s *BackupService) appendPreferences(records []restoreRecord, raw json.RawMessage) []restoreRecord {
	if s.prefs == nil || len(raw) == 0 {
		return records
	}
	return append(records, restoreRecord{
		kind: RecordKindPreferences,
		id:   "backupPreferences",
		apply: func(ctx context.Context) error {
			dropped, err := s.prefs.SetRawBackupPreferences(ctx, raw)
			if len(dropped) > 0 {
				s.logger.Warn("backup preferences restored with defaults", "fields", dropped)
			}
			return err
		},
	})
}

func (s *BackupService) replay(ctx context.Context, records []restoreRecord) (*RestoreResult, error) {
	result := &RestoreResult{}
	for i, record := range records {
		err := ctx.Err()
		if err == nil {
			err = record.apply(ctx)
		}
		if err != nil {
			partial := &PartialRestoreError{
				Applied: i,
				Total:   len(records),
				Kind:    record.kind,
				ID:      record.id,
				Err:     err,
			}
			s.logger.Error("restore stopped", "kind", record.kind, "id", record.id, "applied", i, "total", len(records), "error", err)
			return result, partial
		}
		switch record.kind {
		case RecordKindAssessment:
			result.Assessments++
		case RecordKindEvaluation:
			result.Evaluations++
		case RecordKindPreferences:
			result.PreferencesApplied = true
		}
	}
	s.logger.Info("restore complete",
		"assessments", result.Assessments,
		"evaluations", result.Evaluations,
		"preferences", result.PreferencesApplied,
	)
	return result, nil
}
