package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"industrialvisit/internal/queue"
)

// AnswerKind tags the value type of an extra feedback answer.
type AnswerKind string

const (
	AnswerText     AnswerKind = "text"
	AnswerTextarea AnswerKind = "textarea"
	AnswerCheckbox AnswerKind = "checkbox"
)

// Answer is a tagged union: Text is set for text and textarea answers,
// Checked for checkbox answers. Never both.
type Answer struct {
	Question string     `json:"question" validate:"required,max=500"`
	Kind     AnswerKind `json:"kind" validate:"required,oneof=text textarea checkbox"`
	Text     *string    `json:"text,omitempty"`
	Checked  *bool      `json:"checked,omitempty"`
}

func (a Answer) check() error {
	switch a.Kind {
	case AnswerText, AnswerTextarea:
		if a.Text == nil || a.Checked != nil {
			return fmt.Errorf("%w: %s answer to %q needs a text value", ErrInvalidFeedback, a.Kind, a.Question)
		}
		if a.Kind == AnswerText && len(*a.Text) > 500 {
			return fmt.Errorf("%w: text answer to %q is too long", ErrInvalidFeedback, a.Question)
		}
	case AnswerCheckbox:
		if a.Checked == nil || a.Text != nil {
			return fmt.Errorf("%w: checkbox answer to %q needs a checked value", ErrInvalidFeedback, a.Question)
		}
	default:
		return fmt.Errorf("%w: unknown answer kind %q", ErrInvalidFeedback, a.Kind)
	}
	return nil
}

// FeedbackInput is a student's feedback submission.
type FeedbackInput struct {
	Rating       int      `json:"rating" validate:"min=1,max=5"`
	Comments     string   `json:"comments" validate:"max=5000"`
	ExtraAnswers []Answer `json:"extra_answers" validate:"max=50,dive"`
}

// Feedback is a stored submission.
type Feedback struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"student_id"`
	VisitID      string    `json:"visit_id"`
	Rating       int       `json:"rating"`
	Comments     string    `json:"comments"`
	ExtraAnswers []Answer  `json:"extra_answers"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// SubmitFeedback stores one feedback per student and visit. The student must
// have attended the visit.
func (s *Service) SubmitFeedback(ctx context.Context, studentID, visitID string, in FeedbackInput) (Feedback, error) {
	if studentID == "" {
		return Feedback{}, ErrStudentRequired
	}
	in.Comments = strings.TrimSpace(in.Comments)
	if err := s.validate.Struct(in); err != nil {
		return Feedback{}, fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}
	for _, a := range in.ExtraAnswers {
		if err := a.check(); err != nil {
			return Feedback{}, err
		}
	}
	if _, err := s.store.GetVisit(ctx, visitID); err != nil {
		return Feedback{}, err
	}
	if _, err := s.store.GetAttendance(ctx, studentID, visitID); err != nil {
		if errors.Is(err, ErrAttendanceNotFound) {
			return Feedback{}, ErrNotAttended
		}
		return Feedback{}, err
	}
	now := s.now().UTC()
	f, err := s.store.InsertFeedback(ctx, Feedback{
		ID:           uuid.NewString(),
		StudentID:    studentID,
		VisitID:      visitID,
		Rating:       in.Rating,
		Comments:     in.Comments,
		ExtraAnswers: in.ExtraAnswers,
		SubmittedAt:  now,
	})
	if err != nil {
		return Feedback{}, err
	}
	s.publish(ctx, queue.Message{Type: queue.TypeFeedback, VisitID: visitID, ActorID: studentID, Detail: fmt.Sprintf("rating=%d", in.Rating), At: now})
	return f, nil
}

// ListFeedback returns the visit's feedback for its owner or an admin.
func (s *Service) ListFeedback(ctx context.Context, actor Actor, visitID string) ([]Feedback, error) {
	if _, err := s.manageableVisit(ctx, actor, visitID); err != nil {
		return nil, err
	}
	return s.store.ListFeedback(ctx, visitID)
}
