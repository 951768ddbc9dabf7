package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type evaluationRepository struct {
	db *sql.DB
}

const evaluationColumns = `id, assessment_id, student_name, student_image, pages, total_marks, obtained_marks, overall_feedback, results, status, created_at`

// Save writes the evaluation whole, replacing any row with the same id. The
// referenced assessment does not have to exist.
func (r *evaluationRepository) Save(ctx context.Context, evaluation *Evaluation) error {
	if evaluation == nil {
		return fmt.Errorf("save evaluation: evaluation is nil")
	}
	evaluation.ID = ensureID(evaluation.ID)
	if evaluation.CreatedAt == 0 {
		evaluation.CreatedAt = nowMillis()
	}
	if evaluation.Status == "" {
		evaluation.Status = EvaluationStatusCompleted
	}

	pages, err := encodeList("pages", evaluation.Pages)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	results, err := encodeList("results", evaluation.Results)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO evaluations(`+evaluationColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evaluation.ID,
		evaluation.AssessmentID,
		evaluation.StudentName,
		evaluation.StudentImage,
		pages,
		evaluation.TotalMarks,
		evaluation.ObtainedMarks,
		evaluation.OverallFeedback,
		results,
		string(evaluation.Status),
		evaluation.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}
	return nil
}

func (r *evaluationRepository) Get(ctx context.Context, id string) (*Evaluation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id)
	evaluation, err := scanEvaluation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	return evaluation, nil
}

// List returns evaluations newest first, optionally narrowed to one
// assessment.
func (r *evaluationRepository) List(ctx context.Context, filter EvaluationFilter) ([]Evaluation, error) {
	var (
		clauses []string
		args    []any
	)
	if strings.TrimSpace(filter.AssessmentID) != "" {
		clauses = append(clauses, "assessment_id = ?")
		args = append(args, filter.AssessmentID)
	}

	query := `SELECT ` + evaluationColumns + ` FROM evaluations`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	out := []Evaluation{}
	for rows.Next() {
		evaluation, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("list evaluations: %w", err)
		}
		out = append(out, *evaluation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list evaluations: iterate: %w", err)
	}
	return out, nil
}

func (r *evaluationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM evaluations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete evaluation: %w", err)
	}
	return nil
}

func scanEvaluation(scanner rowScanner) (*Evaluation, error) {
	var (
		evaluation Evaluation
		pages      sql.NullString
		results    sql.NullString
		status     string
	)
	if err := scanner.Scan(
		&evaluation.ID,
		&evaluation.AssessmentID,
		&evaluation.StudentName,
		&evaluation.StudentImage,
		&pages,
		&evaluation.TotalMarks,
		&evaluation.ObtainedMarks,
		&evaluation.OverallFeedback,
		&results,
		&status,
		&evaluation.CreatedAt,
	); err != nil {
		return nil, err
	}

	decodedPages, err := decodeList[Page]("pages", pages)
	if err != nil {
		return nil, err
	}
	if len(decodedPages) > 0 {
		evaluation.Pages = decodedPages
	}
	decodedResults, err := decodeList[QuestionResult]("results", results)
	if err != nil {
		return nil, err
	}
	evaluation.Results = decodedResults
	evaluation.Status = EvaluationStatus(status)
	return &evaluation, nil
}
