package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSON TEXT columns. Each column stores exactly one shape:
//
//	assessments.paper_images  []string
//	questions.options         []string (NULL when the question has none)
//	evaluations.pages         []Page
//	evaluations.results       []QuestionResult

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func encodeList[T any](column string, values []T) (string, error) {
	if values == nil {
		values = []T{}
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", column, err)
	}
	return string(payload), nil
}

func encodeOptionalList[T any](column string, values []T) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	payload, err := encodeList(column, values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: payload, Valid: true}, nil
}

func decodeList[T any](column string, raw sql.NullString) ([]T, error) {
	out := []T{}
	if !raw.Valid || raw.String == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", column, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
