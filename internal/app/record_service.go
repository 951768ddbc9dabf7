package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

// RecordService is the single write path for assessments and evaluations.
// Writes fail loudly with a *WriteError. The Get* reads degrade to an empty
// result when storage fails; the List* reads return the error.
type RecordService struct {
	opener   StoreOpener
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewRecordService(opener StoreOpener, logger *slog.Logger) *RecordService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordService{
		opener:   opener,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// SaveAssessment normalizes the assessment in place, then replaces the
// stored row and its whole question set.
func (s *RecordService) SaveAssessment(ctx context.Context, assessment *storage.Assessment) error {
	const op = "save assessment"
	if assessment == nil {
		return s.writeFailed(op, "", fmt.Errorf("%w: assessment is nil", ErrValidation))
	}
	s.normalizeAssessment(assessment)
	if err := s.validate.Struct(assessment); err != nil {
		return s.writeFailed(op, assessment.ID, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	store, err := s.opener.Open(ctx)
	if err != nil {
		return s.writeFailed(op, assessment.ID, err)
	}
	if err := store.Assessments.Save(ctx, assessment); err != nil {
		return s.writeFailed(op, assessment.ID, err)
	}
	return nil
}

func (s *RecordService) DeleteAssessment(ctx context.Context, id string) error {
	const op = "delete assessment"
	store, err := s.opener.Open(ctx)
	if err != nil {
		return s.writeFailed(op, id, err)
	}
	if err := store.Assessments.Delete(ctx, id); err != nil {
		return s.writeFailed(op, id, err)
	}
	return nil
}

func (s *RecordService) SaveEvaluation(ctx context.Context, evaluation *storage.Evaluation) error {
	const op = "save evaluation"
	if evaluation == nil {
		return s.writeFailed(op, "", fmt.Errorf("%w: evaluation is nil", ErrValidation))
	}
	s.normalizeEvaluation(evaluation)
	if err := s.validate.Struct(evaluation); err != nil {
		return s.writeFailed(op, evaluation.ID, fmt.Errorf("%w: %v", ErrValidation, err))
	}

	store, err := s.opener.Open(ctx)
	if err != nil {
		return s.writeFailed(op, evaluation.ID, err)
	}
	if err := store.Evaluations.Save(ctx, evaluation); err != nil {
		return s.writeFailed(op, evaluation.ID, err)
	}
	return nil
}

func (s *RecordService) DeleteEvaluation(ctx context.Context, id string) error {
	const op = "delete evaluation"
	store, err := s.opener.Open(ctx)
	if err != nil {
		return s.writeFailed(op, id, err)
	}
	if err := store.Evaluations.Delete(ctx, id); err != nil {
		return s.writeFailed(op, id, err)
	}
	return nil
}

// GetAssessments returns every assessment newest first, or an empty list
// when storage is unavailable.
func (s *RecordService) GetAssessments(ctx context.Context) []storage.Assessment {
	list, err := s.ListAssessments(ctx)
	if err != nil {
		s.readDegraded("get assessments", err)
		return []storage.Assessment{}
	}
	return list
}

// GetAssessmentByID returns nil when the id is unknown or storage fails.
func (s *RecordService) GetAssessmentByID(ctx context.Context, id string) *storage.Assessment {
	store, err := s.opener.Open(ctx)
	if err != nil {
		s.readDegraded("get assessment", err)
		return nil
	}
	assessment, err := store.Assessments.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.readDegraded("get assessment", err)
		}
		return nil
	}
	return assessment
}

// GetEvaluations returns evaluations newest first; an empty assessmentID
// means all of them.
func (s *RecordService) GetEvaluations(ctx context.Context, assessmentID string) []storage.Evaluation {
	list, err := s.ListEvaluations(ctx, assessmentID)
	if err != nil {
		s.readDegraded("get evaluations", err)
		return []storage.Evaluation{}
	}
	return list
}

func (s *RecordService) GetEvaluationByID(ctx context.Context, id string) *storage.Evaluation {
	store, err := s.opener.Open(ctx)
	if err != nil {
		s.readDegraded("get evaluation", err)
		return nil
	}
	evaluation, err := store.Evaluations.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.readDegraded("get evaluation", err)
		}
		return nil
	}
	return evaluation
}

// ListAssessments is the strict read used where an empty result must not
// be mistaken for an empty store, such as building a backup.
func (s *RecordService) ListAssessments(ctx context.Context) ([]storage.Assessment, error) {
	store, err := s.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	return store.Assessments.List(ctx)
}

func (s *RecordService) ListEvaluations(ctx context.Context, assessmentID string) ([]storage.Evaluation, error) {
	store, err := s.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	return store.Evaluations.List(ctx, storage.EvaluationFilter{AssessmentID: assessmentID})
}

func (s *RecordService) normalizeAssessment(assessment *storage.Assessment) {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.CreatedAt <= 0 {
		assessment.CreatedAt = s.now().UnixMilli()
	}
	if assessment.PaperImages == nil {
		assessment.PaperImages = []string{}
	}
	if assessment.Questions == nil {
		assessment.Questions = []storage.Question{}
	}
	for i := range assessment.Questions {
		q := &assessment.Questions[i]
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.AssessmentID = assessment.ID
		if q.Marks < 0 {
			s.clamped("question marks", assessment.ID, q.ID, q.Marks, 0)
			q.Marks = 0
		}
	}
}

// normalizeEvaluation keeps 0 <= obtained <= total and non-negative
// per-question marks.
func (s *RecordService) normalizeEvaluation(evaluation *storage.Evaluation) {
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	if evaluation.CreatedAt <= 0 {
		evaluation.CreatedAt = s.now().UnixMilli()
	}
	if evaluation.Status == "" {
		evaluation.Status = storage.EvaluationStatusCompleted
	}
	if evaluation.Results == nil {
		evaluation.Results = []storage.QuestionResult{}
	}

	if evaluation.TotalMarks < 0 {
		s.clamped("total marks", evaluation.ID, "", evaluation.TotalMarks, 0)
		evaluation.TotalMarks = 0
	}
	switch {
	case evaluation.ObtainedMarks < 0:
		s.clamped("obtained marks", evaluation.ID, "", evaluation.ObtainedMarks, 0)
		evaluation.ObtainedMarks = 0
	case evaluation.ObtainedMarks > evaluation.TotalMarks:
		s.clamped("obtained marks", evaluation.ID, "", evaluation.ObtainedMarks, evaluation.TotalMarks)
		evaluation.ObtainedMarks = evaluation.TotalMarks
	}

	for i := range evaluation.Results {
		r := &evaluation.Results[i]
		if r.ObtainedMarks < 0 {
			s.clamped("result marks", evaluation.ID, r.QuestionID, r.ObtainedMarks, 0)
			r.ObtainedMarks = 0
		}
	}
	for i := range evaluation.Pages {
		for questionID, marks := range evaluation.Pages[i].Marks {
			if marks < 0 {
				s.clamped("page marks", evaluation.ID, questionID, marks, 0)
				evaluation.Pages[i].Marks[questionID] = 0
			}
		}
	}
}

func (s *RecordService) clamped(field, recordID, questionID string, from, to int) {
	s.logger.Warn("marks clamped",
		"field", field,
		"record_id", recordID,
		"question_id", questionID,
		"from", from,
		"to", to,
	)
}

func (s *RecordService) writeFailed(op, id string, err error) error {
	s.logger.Error("write failed", "op", op, "id", id, "error", err)
	return &WriteError{Op: op, ID: id, Err: err}
}

func (s *RecordService) readDegraded(op string, err error) {
	s.logger.Warn("read degraded to empty result", "op", op, "error", err)
}
