package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

// QuestionExtractor turns question-paper images into questions. Calls are
// remote and may fail; they are never retried here.
type QuestionExtractor interface {
	ExtractQuestions(ctx context.Context, images []string) ([]storage.Question, error)
}

// PaperEvaluator grades one answer script against a question set.
type PaperEvaluator interface {
	EvaluatePaper(ctx context.Context, image string, questions []storage.Question) (PaperEvaluation, error)
}

type PaperEvaluation struct {
	TotalMarks      int                      `json:"totalMarks"`
	ObtainedMarks   int                      `json:"obtainedMarks"`
	OverallFeedback string                   `json:"overallFeedback"`
	Results         []storage.QuestionResult `json:"results"`
}

type GradeRequest struct {
	AssessmentID string
	// EvaluationID completes an existing in-progress evaluation when set.
	EvaluationID string
	StudentName  string
	StudentImage string
	Pages        []storage.Page
}

type GradingService struct {
	records   *RecordService
	extractor QuestionExtractor
	evaluator PaperEvaluator
	logger    *slog.Logger
}

func NewGradingService(records *RecordService, extractor QuestionExtractor, evaluator PaperEvaluator, logger *slog.Logger) *GradingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GradingService{
		records:   records,
		extractor: extractor,
		evaluator: evaluator,
		logger:    logger,
	}
}

// FinalizeAssessment extracts questions from the paper images when the
// draft has none, then saves the assessment.
func (g *GradingService) FinalizeAssessment(ctx context.Context, draft *storage.Assessment) error {
	if draft == nil {
		return fmt.Errorf("%w: assessment is nil", ErrValidation)
	}
	if len(draft.Questions) == 0 {
		if g.extractor == nil {
			return fmt.Errorf("%w: no questions and no extractor configured", ErrValidation)
		}
		if len(draft.PaperImages) == 0 {
			return fmt.Errorf("%w: paper images are required to extract questions", ErrValidation)
		}
		questions, err := g.extractor.ExtractQuestions(ctx, draft.PaperImages)
		if err != nil {
			return fmt.Errorf("%w: extract questions: %w", ErrCollaborator, err)
		}
		draft.Questions = questions
		g.logger.Info("questions extracted", "assessment_id", draft.ID, "count", len(questions))
	}
	return g.records.SaveAssessment(ctx, draft)
}

// StartEvaluation saves an in-progress evaluation for a student whose pages
// are still being captured.
func (g *GradingService) StartEvaluation(ctx context.Context, req GradeRequest) (*storage.Evaluation, error) {
	assessment := g.records.GetAssessmentByID(ctx, req.AssessmentID)
	if assessment == nil {
		return nil, fmt.Errorf("start evaluation: assessment %q: %w", req.AssessmentID, storage.ErrNotFound)
	}
	evaluation := &storage.Evaluation{
		ID:           req.EvaluationID,
		AssessmentID: assessment.ID,
		StudentName:  req.StudentName,
		StudentImage: req.StudentImage,
		Pages:        req.Pages,
		TotalMarks:   totalMarks(assessment.Questions),
		Status:       storage.EvaluationStatusInProgress,
	}
	if err := g.records.SaveEvaluation(ctx, evaluation); err != nil {
		return nil, err
	}
	return evaluation, nil
}

// GradePaper runs the evaluator and saves a completed evaluation. With an
// EvaluationID it overwrites that record in place.
func (g *GradingService) GradePaper(ctx context.Context, req GradeRequest) (*storage.Evaluation, error) {
	if g.evaluator == nil {
		return nil, fmt.Errorf("%w: no evaluator configured", ErrValidation)
	}
	assessment := g.records.GetAssessmentByID(ctx, req.AssessmentID)
	if assessment == nil {
		return nil, fmt.Errorf("grade paper: assessment %q: %w", req.AssessmentID, storage.ErrNotFound)
	}

	evaluation := &storage.Evaluation{ID: req.EvaluationID}
	if req.EvaluationID != "" {
		if existing := g.records.GetEvaluationByID(ctx, req.EvaluationID); existing != nil {
			evaluation = existing
		}
	}
	evaluation.AssessmentID = assessment.ID
	if req.StudentName != "" {
		evaluation.StudentName = req.StudentName
	}
	if req.StudentImage != "" {
		evaluation.StudentImage = req.StudentImage
	}
	if len(req.Pages) > 0 {
		evaluation.Pages = req.Pages
	}

	image := answerImage(evaluation)
	if image == "" {
		return nil, fmt.Errorf("%w: an answer page or student image is required", ErrValidation)
	}

	graded, err := g.evaluator.EvaluatePaper(ctx, image, assessment.Questions)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate paper: %w", ErrCollaborator, err)
	}

	evaluation.TotalMarks = graded.TotalMarks
	if evaluation.TotalMarks <= 0 {
		evaluation.TotalMarks = totalMarks(assessment.Questions)
	}
	evaluation.ObtainedMarks = graded.ObtainedMarks
	evaluation.OverallFeedback = graded.OverallFeedback
	evaluation.Results = graded.Results
	evaluation.Status = storage.EvaluationStatusCompleted

	if err := g.records.SaveEvaluation(ctx, evaluation); err != nil {
		return nil, err
	}
	g.logger.Info("paper graded",
		"evaluation_id", evaluation.ID,
		"assessment_id", assessment.ID,
		"obtained", evaluation.ObtainedMarks,
		"total", evaluation.TotalMarks,
	)
	return evaluation, nil
}

// AdjustMarks overrides one question's marks, clamped to [0, question max],
// and recomputes the evaluation total. Orphaned evaluations only clamp at 0.
func (g *GradingService) AdjustMarks(ctx context.Context, evaluationID, questionID string, marks int) (*storage.Evaluation, error) {
	evaluation := g.records.GetEvaluationByID(ctx, evaluationID)
	if evaluation == nil {
		return nil, fmt.Errorf("adjust marks: evaluation %q: %w", evaluationID, storage.ErrNotFound)
	}

	limit := -1
	if assessment := g.records.GetAssessmentByID(ctx, evaluation.AssessmentID); assessment != nil {
		for _, q := range assessment.Questions {
			if q.ID == questionID {
				limit = q.Marks
				break
			}
		}
	}
	if marks < 0 {
		marks = 0
	}
	if limit >= 0 && marks > limit {
		marks = limit
	}

	found := false
	sum := 0
	for i := range evaluation.Results {
		if evaluation.Results[i].QuestionID == questionID {
			evaluation.Results[i].ObtainedMarks = marks
			found = true
		}
		sum += evaluation.Results[i].ObtainedMarks
	}
	if !found {
		return nil, fmt.Errorf("adjust marks: question %q in evaluation %q: %w", questionID, evaluationID, storage.ErrNotFound)
	}
	evaluation.ObtainedMarks = sum

	if err := g.records.SaveEvaluation(ctx, evaluation); err != nil {
		return nil, err
	}
	return evaluation, nil
}

func totalMarks(questions []storage.Question) int {
	total := 0
	for _, q := range questions {
		total += q.Marks
	}
	return total
}

func answerImage(evaluation *storage.Evaluation) string {
	for _, page := range evaluation.Pages {
		if page.Type == storage.PageTypeAnswer && strings.TrimSpace(page.URI) != "" {
			return page.URI
		}
	}
	return strings.TrimSpace(evaluation.StudentImage)
}
