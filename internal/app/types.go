package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

var (
	ErrValidation      = errors.New("app: validation failed")
	ErrInvalidSnapshot = errors.New("app: invalid backup snapshot")
	ErrCollaborator    = errors.New("app: collaborator call failed")
)

// StoreOpener hands out the lazily opened store. *storage.Handle satisfies it.
type StoreOpener interface {
	Open(ctx context.Context) (*storage.Store, error)
}

// PreferenceStore is the slice of the settings collaborator the backup
// layer needs. *settings.Preferences satisfies it.
type PreferenceStore interface {
	BackupPreferences(ctx context.Context) (settings.BackupPreferences, error)
	// SetRawBackupPreferences returns the fields it had to drop.
	SetRawBackupPreferences(ctx context.Context, raw json.RawMessage) ([]string, error)
	UpdateLastBackupTime(ctx context.Context, at time.Time) error
}

// WriteError reports a failed save or delete. Prior state is unchanged.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "app: write failed"
	}
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type RecordKind string

const (
	RecordKindAssessment  RecordKind = "assessment"
	RecordKindEvaluation  RecordKind = "evaluation"
	RecordKindPreferences RecordKind = "preferences"
)

// PartialRestoreError reports a restore that stopped part way. Applied
// records stay committed; the record named by Kind and ID and everything
// after it were not written.
type PartialRestoreError struct {
	Applied int
	Total   int
	Kind    RecordKind
	ID      string
	Err     error
}

func (e *PartialRestoreError) Error() string {
	if e == nil {
		return "app: partial restore"
	}
	return fmt.Sprintf("restore stopped at %s %q after %d of %d records; earlier records remain applied: %v",
		e.Kind, e.ID, e.Applied, e.Total, e.Err)
}

func (e *PartialRestoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type RestoreResult struct {
	Assessments        int  `json:"assessments"`
	Evaluations        int  `json:"evaluations"`
	PreferencesApplied bool `json:"preferencesApplied"`
}

type ClearResult struct {
	Assessments int `json:"assessments"`
	Evaluations int `json:"evaluations"`
}

type ExportRequest struct {
	// Passphrase, when set, seals the snapshot in an encrypted envelope.
	Passphrase []byte
	// Share runs the sink's share hook after writing.
	Share bool
}

type ExportResult struct {
	Path        string `json:"path"`
	Encrypted   bool   `json:"encrypted"`
	Assessments int    `json:"assessments"`
	Evaluations int    `json:"evaluations"`
	Shared      bool   `json:"shared"`
}

type ImportRequest struct {
	Path       string
	Passphrase []byte
}
