package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/inzamrzn918/checkerq-sub000/internal/crypto"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const SnapshotVersion = "1.0.0"

var snapshotAAD = []byte("checkerq.snapshot.v1")

// Snapshot is the exported backup document. List fields are native JSON
// arrays; the JSON-in-TEXT encoding used by the database never leaks here.
type Snapshot struct {
	Version     string               `json:"version"`
	Timestamp   string               `json:"timestamp"`
	Assessments []storage.Assessment `json:"assessments"`
	Evaluations []storage.Evaluation `json:"evaluations"`
	Settings    SnapshotSettings     `json:"settings"`
}

type SnapshotSettings struct {
	BackupPreferences json.RawMessage `json:"backupPreferences,omitempty"`
}

// rawSnapshot keeps every record undecoded so one malformed record fails
// on its own during replay instead of rejecting the whole file.
type rawSnapshot struct {
	Version     string
	Timestamp   string
	Assessments []json.RawMessage
	Evaluations []json.RawMessage
	Preferences json.RawMessage
}

// ValidateSnapshot reports whether raw is a JSON object with a non-empty
// string version and array-valued assessments and evaluations. Nested
// records are not inspected.
func ValidateSnapshot(raw []byte) bool {
	_, err := decodeRawSnapshot(raw)
	return err == nil
}

// DecodeSnapshot validates raw and decodes it fully, truncating fractional
// marks and timestamps to integers. A structurally valid
// file with a malformed nested record fails here; use the restore path to
// apply such a file record by record.
func DecodeSnapshot(raw []byte) (*Snapshot, error) {
	if _, err := decodeRawSnapshot(raw); err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := DecodeRecord(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("encode snapshot: snapshot is nil")
	}
	out := *snapshot
	if out.Assessments == nil {
		out.Assessments = []storage.Assessment{}
	}
	if out.Evaluations == nil {
		out.Evaluations = []storage.Evaluation{}
	}
	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

// SealSnapshot wraps an encoded snapshot in a passphrase envelope.
func SealSnapshot(payload, passphrase []byte, params crypto.Argon2Params) ([]byte, error) {
	sealed, err := crypto.SealEnvelope(payload, passphrase, snapshotAAD, params)
	if err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	return sealed, nil
}

// OpenSnapshot returns payload unchanged when it is not an envelope.
func OpenSnapshot(payload, passphrase []byte) ([]byte, bool, error) {
	if !crypto.IsEnvelope(payload) {
		return payload, false, nil
	}
	plain, err := crypto.OpenEnvelope(payload, passphrase, snapshotAAD)
	if err != nil {
		return nil, true, fmt.Errorf("open snapshot: %w", err)
	}
	return plain, true, nil
}

func decodeRawSnapshot(raw []byte) (*rawSnapshot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalidSnapshot)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	out := &rawSnapshot{}
	if err := json.Unmarshal(fields["version"], &out.Version); err != nil || out.Version == "" {
		return nil, fmt.Errorf("%w: version must be a non-empty string", ErrInvalidSnapshot)
	}
	if err := decodeArrayField(fields, "assessments", &out.Assessments); err != nil {
		return nil, err
	}
	if err := decodeArrayField(fields, "evaluations", &out.Evaluations); err != nil {
		return nil, err
	}

	// Optional fields are best effort.
	_ = json.Unmarshal(fields["timestamp"], &out.Timestamp)
	var settingsFields map[string]json.RawMessage
	if err := json.Unmarshal(fields["settings"], &settingsFields); err == nil {
		prefs := bytes.TrimSpace(settingsFields["backupPreferences"])
		if len(prefs) > 0 && !bytes.Equal(prefs, []byte("null")) {
			out.Preferences = json.RawMessage(prefs)
		}
	}
	return out, nil
}

func decodeArrayField(fields map[string]json.RawMessage, name string, dst *[]json.RawMessage) error {
	value := bytes.TrimSpace(fields[name])
	if len(value) == 0 || value[0] != '[' {
		return fmt.Errorf("%w: %s must be an array", ErrInvalidSnapshot, name)
	}
	if err := json.Unmarshal(value, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, name, err)
	}
	return nil
}

// recordID pulls the id out of a raw record for error reporting. It never
// fails; an undecodable record reports its position instead.
func recordID(raw json.RawMessage, index int) string {
	var probe struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != nil {
		return fmt.Sprint(probe.ID)
	}
	return fmt.Sprintf("#%d", index)
}
