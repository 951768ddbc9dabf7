package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/inzamrzn918/checkerq-sub000/internal/crypto"
	"github.com/inzamrzn918/checkerq-sub000/internal/settings"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
	"github.com/stretchr/testify/require"
)

type appFixture struct {
	dir     string
	handle  *storage.Handle
	records *RecordService
	prefs   *settings.Preferences
	sink    *DirSink
	backups *BackupService
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()

	dir := t.TempDir()
	logger := discardLogger()
	handle := storage.NewHandle(storage.HandleOptions{
		Path:   filepath.Join(dir, "checkerq.db"),
		Logger: logger,
	})
	t.Cleanup(func() { require.NoError(t, handle.Close()) })

	records := NewRecordService(handle, logger)
	prefs := settings.NewPreferences(settings.NewFileStore(filepath.Join(dir, "settings.json")))
	sink := NewDirSink(filepath.Join(dir, "backups"), "")
	backups := NewBackupService(BackupServiceOptions{
		Records:     records,
		Preferences: prefs,
		Sink:        sink,
		Logger:      logger,
		KDFParams:   testKDFParams(),
	})
	return &appFixture{
		dir:     dir,
		handle:  handle,
		records: records,
		prefs:   prefs,
		sink:    sink,
		backups: backups,
	}
}

type failingOpener struct {
	err error
}

func (f failingOpener) Open(context.Context) (*storage.Store, error) {
	return nil, f.err
}

var errDiskGone = errors.New("disk gone")

func testKDFParams() crypto.Argon2Params {
	return crypto.Argon2Params{
		Memory:      crypto.MinArgon2MemoryKiB,
		Iterations:  1,
		Parallelism: 1,
		SaltLen:     16,
		KeyLen:      32,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioAssessment() *storage.Assessment {
	return &storage.Assessment{
		ID:    "a1",
		Title: "Midterm",
		Questions: []storage.Question{
			{ID: "q1", Text: "Explain photosynthesis.", Marks: 5, Type: storage.QuestionTypeDescriptive},
		},
	}
}

func scenarioEvaluation() *storage.Evaluation {
	return &storage.Evaluation{
		ID:            "e1",
		AssessmentID:  "a1",
		TotalMarks:    5,
		ObtainedMarks: 3,
		Results:       []storage.QuestionResult{{QuestionID: "q1", ObtainedMarks: 3}},
	}
}

func richAssessment(id string, createdAt int64) *storage.Assessment {
	return &storage.Assessment{
		ID:          id,
		Title:       "Chemistry " + id,
		TeacherName: "M. Iyer",
		Subject:     "Chemistry",
		ClassRoom:   "9-A",
		PaperImages: []string{"file:///paper/" + id + ".jpg"},
		CreatedAt:   createdAt,
		Questions: []storage.Question{
			{ID: "q1", Text: "Name a noble gas.", Marks: 2, Type: storage.QuestionTypeFillInBlanks},
			{ID: "q2", Text: "Water boils at 100C at sea level.", Marks: 1, Type: storage.QuestionTypeTrueFalse},
			{ID: "q3", Text: "Pick the acid.", Marks: 2, Type: storage.QuestionTypeMCQ, Options: []string{"NaOH", "HCl"}, Instruction: "Choose one"},
		},
	}
}

func richEvaluation(id, assessmentID string, obtained int, createdAt int64) *storage.Evaluation {
	return &storage.Evaluation{
		ID:           id,
		AssessmentID: assessmentID,
		StudentName:  "Student " + id,
		Pages: []storage.Page{
			{URI: "file:///scan/" + id + "-0.jpg", Type: storage.PageTypeCover},
			{URI: "file:///scan/" + id + "-1.jpg", Type: storage.PageTypeAnswer, Marks: map[string]int{"q1": 2}},
		},
		TotalMarks:      5,
		ObtainedMarks:   obtained,
		OverallFeedback: "Keep going",
		Results: []storage.QuestionResult{
			{QuestionID: "q1", ObtainedMarks: 2, Feedback: "Right", StudentAnswer: "Neon"},
		},
		Status:    storage.EvaluationStatusCompleted,
		CreatedAt: createdAt,
	}
}
