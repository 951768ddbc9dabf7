package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type assessmentRepository struct {
	db *sql.DB
}

// Save upserts the assessment and replaces its question set in one
// transaction. Readers see either the old or the new questions, never a mix.
func (r *assessmentRepository) Save(ctx context.Context, assessment *Assessment) error {
	if assessment == nil {
		return fmt.Errorf("save assessment: assessment is nil")
	}
	assessment.ID = ensureID(assessment.ID)
	if assessment.CreatedAt == 0 {
		assessment.CreatedAt = nowMillis()
	}

	paperImages, err := encodeList("paper_images", assessment.PaperImages)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save assessment: begin tx: %w", err)
	}

	// ON CONFLICT DO UPDATE rather than INSERT OR REPLACE: REPLACE deletes the
	// parent row first, which would cascade into the question rows.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assessments(id, title, teacher_name, subject, class_room, paper_images, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			teacher_name = excluded.teacher_name,
			subject = excluded.subject,
			class_room = excluded.class_room,
			paper_images = excluded.paper_images,
			created_at = excluded.created_at
	`, assessment.ID, assessment.Title, assessment.TeacherName, assessment.Subject, assessment.ClassRoom, paperImages, assessment.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save assessment: upsert row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE assessment_id = ?`, assessment.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save assessment: clear questions: %w", err)
	}

	for i := range assessment.Questions {
		question := &assessment.Questions[i]
		question.ID = ensureID(question.ID)
		question.AssessmentID = assessment.ID

		options, err := encodeOptionalList("options", question.Options)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save assessment: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO questions(id, assessment_id, position, text, marks, type, instruction, options)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, question.ID, assessment.ID, i, question.Text, question.Marks, string(question.Type), question.Instruction, options)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save assessment: insert question %q: %w", question.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save assessment: commit: %w", err)
	}
	return nil
}

func (r *assessmentRepository) Get(ctx context.Context, id string) (*Assessment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, teacher_name, subject, class_room, paper_images, created_at
		FROM assessments
		WHERE id = ?
	`, id)

	assessment, err := scanAssessment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	questions, err := r.questionsByAssessmentID(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	assessment.Questions = questions
	return assessment, nil
}

func (r *assessmentRepository) List(ctx context.Context) ([]Assessment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, teacher_name, subject, class_room, paper_images, created_at
		FROM assessments
		ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}

	out := []Assessment{}
	for rows.Next() {
		assessment, err := scanAssessment(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list assessments: %w", err)
		}
		out = append(out, *assessment)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list assessments: iterate: %w", err)
	}
	_ = rows.Close()

	for i := range out {
		questions, err := r.questionsByAssessmentID(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Questions = questions
	}
	return out, nil
}

// Delete removes the assessment; its questions follow through the foreign
// key cascade. Evaluations graded against it are left in place.
func (r *assessmentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM assessments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete assessment: %w", err)
	}
	return nil
}

func (r *assessmentRepository) questionsByAssessmentID(ctx context.Context, assessmentID string) ([]Question, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, assessment_id, text, marks, type, instruction, options
		FROM questions
		WHERE assessment_id = ?
		ORDER BY position ASC
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		var (
			q       Question
			qType   string
			rawOpts sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Text, &q.Marks, &qType, &q.Instruction, &rawOpts); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.Type = QuestionType(qType)
		options, err := decodeList[string]("options", rawOpts)
		if err != nil {
			return nil, err
		}
		if len(options) > 0 {
			q.Options = options
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return questions, nil
}

func scanAssessment(scanner rowScanner) (*Assessment, error) {
	var (
		assessment  Assessment
		paperImages sql.NullString
	)
	if err := scanner.Scan(
		&assessment.ID,
		&assessment.Title,
		&assessment.TeacherName,
		&assessment.Subject,
		&assessment.ClassRoom,
		&paperImages,
		&assessment.CreatedAt,
	); err != nil {
		return nil, err
	}

	images, err := decodeList[string]("paper_images", paperImages)
	if err != nil {
		return nil, err
	}
	assessment.PaperImages = images
	return &assessment, nil
}
