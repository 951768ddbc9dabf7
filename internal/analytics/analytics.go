// Package analytics computes class, question, student and subject
// statistics from stored assessments and evaluations. Every function is
// pure; percentages are rounded to one decimal.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/inzamrzn918/checkerq-sub000/internal/storage"
)

const (
	UnknownLabel       = "Unknown"
	PassPercentage     = 60.0
	DefaultTopLimit    = 5
	trendWindow        = 3
	easySuccessRate    = 70.0
	hardSuccessRateMax = 50.0
)

type GradeDistribution struct {
	A int `json:"A"`
	B int `json:"B"`
	C int `json:"C"`
	D int `json:"D"`
	F int `json:"F"`
}

type ClassPerformance struct {
	ClassName         string            `json:"className"`
	AverageScore      float64           `json:"averageScore"`
	PassRate          float64           `json:"passRate"`
	TotalStudents     int               `json:"totalStudents"`
	TotalEvaluations  int               `json:"totalEvaluations"`
	GradeDistribution GradeDistribution `json:"gradeDistribution"`
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

type QuestionStats struct {
	QuestionID   string     `json:"questionId"`
	QuestionText string     `json:"questionText"`
	MaxMarks     int        `json:"maxMarks"`
	AverageMarks float64    `json:"averageMarks"`
	SuccessRate  float64    `json:"successRate"`
	Difficulty   Difficulty `json:"difficulty"`
	AttemptedBy  int        `json:"attemptedBy"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

type StudentEvaluation struct {
	Date       time.Time `json:"date"`
	Subject    string    `json:"subject"`
	Score      int       `json:"score"`
	TotalMarks int       `json:"totalMarks"`
	Percentage float64   `json:"percentage"`
}

type StudentProgress struct {
	StudentName        string              `json:"studentName"`
	Evaluations        []StudentEvaluation `json:"evaluations"`
	AverageScore       float64             `json:"averageScore"`
	Trend              Trend               `json:"trend"`
	SubjectPerformance map[string]float64  `json:"subjectPerformance"`
}

type Performer struct {
	Name     string  `json:"name"`
	AvgScore float64 `json:"avgScore"`
}

type SubjectInsight struct {
	Subject  string  `json:"subject"`
	AvgScore float64 `json:"avgScore"`
	Count    int     `json:"count"`
}

// Grade maps a percentage to a letter grade.
func Grade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// Percentage is obtained/total as a percentage. A zero total yields 0.
func Percentage(evaluation storage.Evaluation) float64 {
	if evaluation.TotalMarks <= 0 {
		return 0
	}
	return float64(evaluation.ObtainedMarks) / float64(evaluation.TotalMarks) * 100
}

// ClassPerformanceReport groups evaluations by the class of their assessment,
// sorted by class name. A non-empty className keeps only that class.
// Evaluations whose assessment is gone fall under UnknownLabel.
func ClassPerformanceReport(evaluations []storage.Evaluation, assessments []storage.Assessment, className string) []ClassPerformance {
	byID := indexAssessments(assessments)
	byClass := map[string][]storage.Evaluation{}
	for _, evaluation := range evaluations {
		class := UnknownLabel
		if a, ok := byID[evaluation.AssessmentID]; ok && a.ClassRoom != "" {
			class = a.ClassRoom
		}
		if className != "" && class != className {
			continue
		}
		byClass[class] = append(byClass[class], evaluation)
	}

	out := make([]ClassPerformance, 0, len(byClass))
	for class, evals := range byClass {
		var (
			sum    float64
			passed int
			grades GradeDistribution
		)
		students := map[string]struct{}{}
		for _, evaluation := range evals {
			score := Percentage(evaluation)
			sum += score
			if score >= PassPercentage {
				passed++
			}
			switch Grade(score) {
			case "A":
				grades.A++
			case "B":
				grades.B++
			case "C":
				grades.C++
			case "D":
				grades.D++
			default:
				grades.F++
			}
			students[studentLabel(evaluation.StudentName)] = struct{}{}
		}
		out = append(out, ClassPerformance{
			ClassName:         class,
			AverageScore:      round1(sum / float64(len(evals))),
			PassRate:          round1(float64(passed) / float64(len(evals)) * 100),
			TotalStudents:     len(students),
			TotalEvaluations:  len(evals),
			GradeDistribution: grades,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassName < out[j].ClassName })
	return out
}

// QuestionAnalysis reports per-question averages for one assessment, in
// question order. It returns an empty list when nobody has been graded.
func QuestionAnalysis(evaluations []storage.Evaluation, assessment storage.Assessment) []QuestionStats {
	var graded []storage.Evaluation
	for _, evaluation := range evaluations {
		if evaluation.AssessmentID == assessment.ID {
			graded = append(graded, evaluation)
		}
	}
	out := []QuestionStats{}
	if len(graded) == 0 {
		return out
	}

	for _, q := range assessment.Questions {
		var (
			total    int
			attempts int
		)
		for _, evaluation := range graded {
			for _, result := range evaluation.Results {
				if result.QuestionID == q.ID {
					total += result.ObtainedMarks
					attempts++
					break
				}
			}
		}
		var avg, success float64
		if attempts > 0 {
			avg = float64(total) / float64(attempts)
		}
		if q.Marks > 0 {
			success = avg / float64(q.Marks) * 100
		}
		difficulty := DifficultyMedium
		switch {
		case success >= easySuccessRate:
			difficulty = DifficultyEasy
		case success < hardSuccessRateMax:
			difficulty = DifficultyHard
		}
		out = append(out, QuestionStats{
			QuestionID:   q.ID,
			QuestionText: q.Text,
			MaxMarks:     q.Marks,
			AverageMarks: round1(avg),
			SuccessRate:  round1(success),
			Difficulty:   difficulty,
			AttemptedBy:  attempts,
		})
	}
	return out
}

// StudentProgressReport returns nil when the student has no evaluations.
// The trend looks at the three most recent results only.
func StudentProgressReport(evaluations []storage.Evaluation, studentName string, assessments []storage.Assessment) *StudentProgress {
	byID := indexAssessments(assessments)
	var rows []StudentEvaluation
	for _, evaluation := range evaluations {
		if evaluation.StudentName != studentName {
			continue
		}
		rows = append(rows, StudentEvaluation{
			Date:       time.UnixMilli(evaluation.CreatedAt).UTC(),
			Subject:    subjectOf(byID, evaluation.AssessmentID),
			Score:      evaluation.ObtainedMarks,
			TotalMarks: evaluation.TotalMarks,
			Percentage: round1(Percentage(evaluation)),
		})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	var sum float64
	bySubject := map[string][]float64{}
	for _, row := range rows {
		sum += row.Percentage
		bySubject[row.Subject] = append(bySubject[row.Subject], row.Percentage)
	}

	trend := TrendStable
	if len(rows) >= trendWindow {
		recent := rows[len(rows)-trendWindow:]
		switch {
		case recent[2].Percentage > recent[1].Percentage && recent[1].Percentage > recent[0].Percentage:
			trend = TrendImproving
		case recent[2].Percentage < recent[1].Percentage && recent[1].Percentage < recent[0].Percentage:
			trend = TrendDeclining
		}
	}

	subjects := make(map[string]float64, len(bySubject))
	for subject, scores := range bySubject {
		subjects[subject] = round1(mean(scores))
	}
	return &StudentProgress{
		StudentName:        studentName,
		Evaluations:        rows,
		AverageScore:       round1(sum / float64(len(rows))),
		Trend:              trend,
		SubjectPerformance: subjects,
	}
}

// TopPerformers ranks students by average percentage, best first. A limit
// of zero or less means DefaultTopLimit.
func TopPerformers(evaluations []storage.Evaluation, limit int) []Performer {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	byStudent := map[string][]float64{}
	for _, evaluation := range evaluations {
		name := studentLabel(evaluation.StudentName)
		byStudent[name] = append(byStudent[name], Percentage(evaluation))
	}
	out := make([]Performer, 0, len(byStudent))
	for name, scores := range byStudent {
		out = append(out, Performer{Name: name, AvgScore: round1(mean(scores))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore > out[j].AvgScore
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SubjectInsights averages percentages per subject, best first.
func SubjectInsights(evaluations []storage.Evaluation, assessments []storage.Assessment) []SubjectInsight {
	byID := indexAssessments(assessments)
	bySubject := map[string][]float64{}
	for _, evaluation := range evaluations {
		subject := subjectOf(byID, evaluation.AssessmentID)
		bySubject[subject] = append(bySubject[subject], Percentage(evaluation))
	}
	out := make([]SubjectInsight, 0, len(bySubject))
	for subject, scores := range bySubject {
		out = append(out, SubjectInsight{Subject: subject, AvgScore: round1(mean(scores)), Count: len(scores)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgScore != out[j].AvgScore {
			return out[i].AvgScore > out[j].AvgScore
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

func indexAssessments(assessments []storage.Assessment) map[string]storage.Assessment {
	out := make(map[string]storage.Assessment, len(assessments))
	for _, a := range assessments {
		out[a.ID] = a
	}
	return out
}

func subjectOf(byID map[string]storage.Assessment, assessmentID string) string {
	if a, ok := byID[assessmentID]; ok && a.Subject != "" {
		return a.Subject
	}
	return UnknownLabel
}

func studentLabel(name string) string {
	if name == "" {
		return UnknownLabel
	}
	return name
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
