// Package report renders printable summaries of graded evaluations.
package report

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/inzamrzn918/checkerq-sub000/internal/analytics"
	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

// DeletedAssessmentLabel titles reports whose assessment no longer exists.
const DeletedAssessmentLabel = "Deleted assessment"

var ErrNoEvaluation = errors.New("report: evaluation is required")

const (
	pageMargin  = 15.0
	lineHeight  = 7.0
	labelWidth  = 40.0
	markColumn  = 30.0
	titleSize   = 16.0
	headingSize = 12.0
	bodySize    = 10.0
)

// WriteEvaluationPDF writes a one-page A4 summary of evaluation to w.
// assessment may be nil when the evaluation is orphaned.
func WriteEvaluationPDF(w io.Writer, assessment *storage.Assessment, evaluation *storage.Evaluation) error {
	if evaluation == nil {
		return ErrNoEvaluation
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle("Evaluation "+evaluation.ID, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := DeletedAssessmentLabel
	if assessment != nil && assessment.Title != "" {
		title = assessment.Title
	}

	pdf.AddPage()
	pdf.SetFont("Arial", "B", titleSize)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", bodySize)
	field := func(label, value string) {
		if value == "" {
			return
		}
		pdf.SetFont("Arial", "B", bodySize)
		pdf.CellFormat(labelWidth, lineHeight, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", bodySize)
		pdf.CellFormat(0, lineHeight, tr(value), "", 1, "L", false, 0, "")
	}

	if assessment != nil {
		field("Subject", assessment.Subject)
		field("Class", assessment.ClassRoom)
		field("Teacher", assessment.TeacherName)
	}
	field("Student", evaluation.StudentName)
	if evaluation.CreatedAt > 0 {
		field("Graded", time.UnixMilli(evaluation.CreatedAt).UTC().Format("2006-01-02 15:04 MST"))
	}

	percentage := analytics.Percentage(*evaluation)
	field("Score", fmt.Sprintf("%d / %d (%.1f%%)", evaluation.ObtainedMarks, evaluation.TotalMarks, percentage))
	field("Grade", analytics.Grade(percentage))
	pdf.Ln(4)

	if len(evaluation.Results) > 0 {
		pdf.SetFont("Arial", "B", headingSize)
		pdf.CellFormat(0, lineHeight, "Results", "B", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", bodySize)

		questions := questionIndex(assessment)
		width, _ := pdf.GetPageSize()
		textWidth := width - 2*pageMargin - markColumn
		for i, result := range evaluation.Results {
			q, ok := questions[result.QuestionID]
			label := strconv.Itoa(i+1) + ". "
			outOf := "?"
			if ok {
				label += q.Text
				outOf = strconv.Itoa(q.Marks)
			} else {
				label += result.QuestionID
			}
			y := pdf.GetY()
			pdf.MultiCell(textWidth, lineHeight, tr(label), "", "L", false)
			after := pdf.GetY()
			pdf.SetXY(pageMargin+textWidth, y)
			pdf.CellFormat(markColumn, lineHeight, fmt.Sprintf("%d / %s", result.ObtainedMarks, outOf), "", 0, "R", false, 0, "")
			pdf.SetY(after)

			if result.StudentAnswer != "" {
				pdf.SetFont("Arial", "I", bodySize)
				pdf.MultiCell(textWidth, lineHeight, tr("Answer: "+result.StudentAnswer), "", "L", false)
				pdf.SetFont("Arial", "", bodySize)
			}
			if result.Feedback != "" {
				pdf.MultiCell(textWidth, lineHeight, tr("Feedback: "+result.Feedback), "", "L", false)
			}
			pdf.Ln(1)
		}
		pdf.Ln(3)
	}

	if evaluation.OverallFeedback != "" {
		pdf.SetFont("Arial", "B", headingSize)
		pdf.CellFormat(0, lineHeight, "Overall feedback", "B", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", bodySize)
		pdf.MultiCell(0, lineHeight, tr(evaluation.OverallFeedback), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render evaluation %s: %w", evaluation.ID, err)
	}
	return nil
}

func questionIndex(assessment *storage.Assessment) map[string]storage.Question {
	if assessment == nil {
		return nil
	}
	out := make(map[string]storage.Question, len(assessment.Questions))
	for _, q := range assessment.Questions {
		out[q.ID] = q
	}
	return out
}
