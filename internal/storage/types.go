package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrSchemaTooNew = errors.New("storage: schema version newer than code")
)

// SchemaError reports that the schema could not be prepared. The handle that
// produced it caches nothing, so the next Open starts over.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	if e == nil || e.Err == nil {
		return "storage: schema error"
	}
	return "storage: prepare schema for " + e.Path + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type QuestionType string

const (
	QuestionTypeMCQ          QuestionType = "MCQ"
	QuestionTypeDescriptive  QuestionType = "Descriptive"
	QuestionTypeFillInBlanks QuestionType = "FillInBlanks"
	QuestionTypeTrueFalse    QuestionType = "TrueFalse"
)

type PageType string

const (
	PageTypeCover  PageType = "cover"
	PageTypeAnswer PageType = "answer"
)

type EvaluationStatus string

const (
	EvaluationStatusInProgress EvaluationStatus = "in_progress"
	EvaluationStatusCompleted  EvaluationStatus = "completed"
)

// Assessment is a question paper. CreatedAt is epoch milliseconds.
type Assessment struct {
	ID          string     `json:"id" validate:"required"`
	Title       string     `json:"title"`
	TeacherName string     `json:"teacherName"`
	Subject     string     `json:"subject"`
	ClassRoom   string     `json:"classRoom"`
	Questions   []Question `json:"questions" validate:"dive"`
	PaperImages []string   `json:"paperImages"`
	CreatedAt   int64      `json:"createdAt"`
}

type Question struct {
	ID           string       `json:"id" validate:"required"`
	AssessmentID string       `json:"assessmentId,omitempty"`
	Text         string       `json:"text"`
	Marks        int          `json:"marks"`
	Type         QuestionType `json:"type" validate:"oneof=MCQ Descriptive FillInBlanks TrueFalse"`
	Instruction  string       `json:"instruction,omitempty"`
	Options      []string     `json:"options,omitempty"`
}

// Page is one scanned sheet of a student's answer script. Marks maps a
// question id to the marks awarded on this page.
type Page struct {
	URI   string         `json:"uri"`
	Type  PageType       `json:"type" validate:"oneof=cover answer"`
	Marks map[string]int `json:"marks,omitempty"`
}

type QuestionResult struct {
	QuestionID    string `json:"questionId"`
	ObtainedMarks int    `json:"obtainedMarks"`
	Feedback      string `json:"feedback"`
	StudentAnswer string `json:"studentAnswer"`
}

type Evaluation struct {
	ID              string           `json:"id" validate:"required"`
	AssessmentID    string           `json:"assessmentId" validate:"required"`
	StudentName     string           `json:"studentName,omitempty"`
	StudentImage    string           `json:"studentImage,omitempty"`
	Pages           []Page           `json:"pages,omitempty" validate:"dive"`
	TotalMarks      int              `json:"totalMarks"`
	ObtainedMarks   int              `json:"obtainedMarks"`
	OverallFeedback string           `json:"overallFeedback"`
	Results         []QuestionResult `json:"results"`
	Status          EvaluationStatus `json:"status,omitempty" validate:"omitempty,oneof=in_progress completed"`
	CreatedAt       int64            `json:"createdAt"`
}

type EvaluationFilter struct {
	AssessmentID string
}

type Counts struct {
	Assessments int `json:"assessments"`
	Questions   int `json:"questions"`
	Evaluations int `json:"evaluations"`
}

type AssessmentRepository interface {
	Save(ctx context.Context, assessment *Assessment) error
	Get(ctx context.Context, id string) (*Assessment, error)
	List(ctx context.Context) ([]Assessment, error)
	Delete(ctx context.Context, id string) error
}

type EvaluationRepository interface {
	Save(ctx context.Context, evaluation *Evaluation) error
	Get(ctx context.Context, id string) (*Evaluation, error)
	List(ctx context.Context, filter EvaluationFilter) ([]Evaluation, error)
	Delete(ctx context.Context, id string) error
}
