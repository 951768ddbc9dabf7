package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	backupPreferencesKey = "backup_preferences"
	geminiAPIKey         = "gemini_api_key"
	mistralAPIKey        = "mistral_api_key"
)

var ErrInvalidPreferences = errors.New("invalid backup preferences")

type BackupFrequency string

const (
	FrequencyDaily  BackupFrequency = "daily"
	FrequencyWeekly BackupFrequency = "weekly"
	FrequencyManual BackupFrequency = "manual"
)

// Window is the minimum gap between automatic backups. Manual returns 0.
func (f BackupFrequency) Window() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

type BackupPreferences struct {
	AutoBackupEnabled    bool            `json:"autoBackupEnabled"`
	BackupFrequency      BackupFrequency `json:"backupFrequency" validate:"oneof=daily weekly manual"`
	LastBackupTime       *time.Time      `json:"lastBackupTime,omitempty"`
	GoogleDriveConnected bool            `json:"googleDriveConnected"`
	GoogleDriveEmail     string          `json:"googleDriveEmail,omitempty" validate:"omitempty,email"`
}

func DefaultBackupPreferences() BackupPreferences {
	return BackupPreferences{BackupFrequency: FrequencyManual}
}

type APIKeys struct {
	Gemini  string `json:"gemini,omitempty"`
	Mistral string `json:"mistral,omitempty"`
}

// Preferences reads and writes typed settings on top of a SecretStore.
type Preferences struct {
	store    SecretStore
	validate *validator.Validate
}

func NewPreferences(store SecretStore) *Preferences {
	return &Preferences{store: store, validate: validator.New()}
}

func (p *Preferences) BackupPreferences(ctx context.Context) (BackupPreferences, error) {
	raw, ok, err := p.store.Get(ctx, backupPreferencesKey)
	if err != nil {
		return BackupPreferences{}, fmt.Errorf("get backup preferences: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return DefaultBackupPreferences(), nil
	}
	prefs := DefaultBackupPreferences()
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return BackupPreferences{}, fmt.Errorf("get backup preferences: decode: %w", err)
	}
	if prefs.BackupFrequency == "" {
		prefs.BackupFrequency = FrequencyManual
	}
	return prefs, nil
}

func (p *Preferences) SetBackupPreferences(ctx context.Context, prefs BackupPreferences) error {
	if prefs.BackupFrequency == "" {
		prefs.BackupFrequency = FrequencyManual
	}
	if err := p.validate.Struct(prefs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}
	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("set backup preferences: encode: %w", err)
	}
	if err := p.store.Set(ctx, backupPreferencesKey, string(payload)); err != nil {
		return fmt.Errorf("set backup preferences: %w", err)
	}
	return nil
}

// SetRawBackupPreferences stores preferences carried inside a snapshot.
// Each field is taken on its own: a field with an unusable value falls back
// to its default and is named in the returned list. Only a store failure is
// an error.
func (p *Preferences) SetRawBackupPreferences(ctx context.Context, raw json.RawMessage) ([]string, error) {
	prefs, dropped := decodeLenientPreferences(raw, p.validate)
	if err := p.SetBackupPreferences(ctx, prefs); err != nil {
		return dropped, err
	}
	return dropped, nil
}

// Layouts accepted for lastBackupTime besides RFC 3339.
var lastBackupLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func decodeLenientPreferences(raw json.RawMessage, validate *validator.Validate) (BackupPreferences, []string) {
	prefs := DefaultBackupPreferences()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return prefs, []string{"backupPreferences"}
	}

	var dropped []string
	decodeBool := func(name string, dst *bool) {
		value, ok := fields[name]
		if !ok || string(value) == "null" {
			return
		}
		if err := json.Unmarshal(value, dst); err != nil {
			dropped = append(dropped, name)
		}
	}
	decodeBool("autoBackupEnabled", &prefs.AutoBackupEnabled)
	decodeBool("googleDriveConnected", &prefs.GoogleDriveConnected)

	if value, ok := fields["backupFrequency"]; ok && string(value) != "null" {
		var text string
		_ = json.Unmarshal(value, &text)
		switch frequency := BackupFrequency(strings.ToLower(strings.TrimSpace(text))); frequency {
		case FrequencyDaily, FrequencyWeekly, FrequencyManual:
			prefs.BackupFrequency = frequency
		default:
			dropped = append(dropped, "backupFrequency")
		}
	}

	if value, ok := fields["lastBackupTime"]; ok && string(value) != "null" {
		if at, ok := parseLastBackupTime(value); ok {
			prefs.LastBackupTime = &at
		} else {
			dropped = append(dropped, "lastBackupTime")
		}
	}

	if value, ok := fields["googleDriveEmail"]; ok && string(value) != "null" {
		var email string
		if err := json.Unmarshal(value, &email); err != nil || validate.Var(email, "omitempty,email") != nil {
			dropped = append(dropped, "googleDriveEmail")
		} else {
			prefs.GoogleDriveEmail = email
		}
	}
	return prefs, dropped
}

// parseLastBackupTime accepts a timestamp string in one of
// lastBackupLayouts (UTC when no zone is given) or epoch milliseconds.
func parseLastBackupTime(value json.RawMessage) (time.Time, bool) {
	var millis int64
	if err := json.Unmarshal(value, &millis); err == nil {
		return time.UnixMilli(millis).UTC(), true
	}
	var text string
	if err := json.Unmarshal(value, &text); err != nil {
		return time.Time{}, false
	}
	text = strings.TrimSpace(text)
	for _, layout := range lastBackupLayouts {
		if at, err := time.Parse(layout, text); err == nil {
			return at.UTC(), true
		}
	}
	return time.Time{}, false
}

func (p *Preferences) UpdateLastBackupTime(ctx context.Context, at time.Time) error {
	prefs, err := p.BackupPreferences(ctx)
	if err != nil {
		return err
	}
	stamp := at.UTC()
	prefs.LastBackupTime = &stamp
	return p.SetBackupPreferences(ctx, prefs)
}

func (p *Preferences) APIKeys(ctx context.Context) (APIKeys, error) {
	var keys APIKeys
	gemini, _, err := p.store.Get(ctx, geminiAPIKey)
	if err != nil {
		return APIKeys{}, fmt.Errorf("get api keys: %w", err)
	}
	mistral, _, err := p.store.Get(ctx, mistralAPIKey)
	if err != nil {
		return APIKeys{}, fmt.Errorf("get api keys: %w", err)
	}
	keys.Gemini = gemini
	keys.Mistral = mistral
	return keys, nil
}

// SetAPIKeys stores the non-empty keys and leaves the others untouched.
func (p *Preferences) SetAPIKeys(ctx context.Context, keys APIKeys) error {
	if keys.Gemini != "" {
		if err := p.store.Set(ctx, geminiAPIKey, keys.Gemini); err != nil {
			return fmt.Errorf("set api keys: %w", err)
		}
	}
	if keys.Mistral != "" {
		if err := p.store.Set(ctx, mistralAPIKey, keys.Mistral); err != nil {
			return fmt.Errorf("set api keys: %w", err)
		}
	}
	return nil
}

func (p *Preferences) ClearAPIKeys(ctx context.Context) error {
	for _, key := range []string{geminiAPIKey, mistralAPIKey} {
		if err := p.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("clear api keys: %w", err)
		}
	}
	return nil
}

// HasValidKeys reports whether a usable extraction key is configured.
func (p *Preferences) HasValidKeys(ctx context.Context) (bool, error) {
	keys, err := p.APIKeys(ctx)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(keys.Gemini) != "", nil
}
