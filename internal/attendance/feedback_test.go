package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok := f.rotate(t, t0)

	in := FeedbackInput{
		Rating:   4,
		Comments: "  Great safety briefing  ",
		ExtraAnswers: []Answer{
			{Question: "Favourite section", Kind: AnswerText, Text: strPtr("Rolling mill")},
			{Question: "Suggestions", Kind: AnswerTextarea, Text: strPtr("More time at the furnace")},
			{Question: "Would recommend", Kind: AnswerCheckbox, Checked: boolPtr(true)},
		},
	}

	_, err := f.svc.SubmitFeedback(ctx, "stu-1", f.visit.ID, in)
	assert.ErrorIs(t, err, ErrNotAttended)

	_, err = f.checkIn(tok.Value, "stu-1", site, t0.Add(time.Minute))
	require.NoError(t, err)

	fb, err := f.svc.SubmitFeedback(ctx, "stu-1", f.visit.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Great safety briefing", fb.Comments)
	assert.Len(t, fb.ExtraAnswers, 3)

	_, err = f.svc.SubmitFeedback(ctx, "stu-1", f.visit.ID, in)
	assert.ErrorIs(t, err, ErrFeedbackExists)

	list, err := f.svc.ListFeedback(ctx, f.owner, f.visit.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.ListFeedback(ctx, Actor{ID: "stu-1"}, f.visit.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := map[string]FeedbackInput{
		"rating zero":      {Rating: 0},
		"rating six":       {Rating: 6},
		"unknown kind":     {Rating: 3, ExtraAnswers: []Answer{{Question: "q", Kind: "radio", Text: strPtr("x")}}},
		"text missing":     {Rating: 3, ExtraAnswers: []Answer{{Question: "q", Kind: AnswerText}}},
		"checkbox as text": {Rating: 3, ExtraAnswers: []Answer{{Question: "q", Kind: AnswerCheckbox, Text: strPtr("yes")}}},
		"both values":      {Rating: 3, ExtraAnswers: []Answer{{Question: "q", Kind: AnswerTextarea, Text: strPtr("x"), Checked: boolPtr(false)}}},
		"missing question": {Rating: 3, ExtraAnswers: []Answer{{Kind: AnswerCheckbox, Checked: boolPtr(true)}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SubmitFeedback(ctx, "stu-1", f.visit.ID, in)
			assert.ErrorIs(t, err, ErrInvalidFeedback)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
