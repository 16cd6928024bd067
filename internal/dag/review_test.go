package dag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecisionExactTailMarker(t *testing.T) {
	d := ParseDecision("Looks solid, nice work.\n\nAPPROVED")
	assert.True(t, d.Approved)
	assert.Equal(t, "Looks solid, nice work.\n", d.Feedback)

	d = ParseDecision("Needs more tests.\nREVISION_NEEDED")
	assert.False(t, d.Approved)
}

func TestParseDecisionIgnoresTrailingBlankLines(t *testing.T) {
	d := ParseDecision("Good.\nAPPROVED\n\n\n")
	assert.True(t, d.Approved)
}

func TestParseDecisionFallsBackToSubstringHeuristic(t *testing.T) {
	d := ParseDecision("Overall this change is approved and ready to merge.")
	assert.True(t, d.Approved)

	d = ParseDecision("This is not approved yet, needs revision.")
	assert.False(t, d.Approved)

	d = ParseDecision("Completely unrelated closing remarks.")
	assert.False(t, d.Approved)
}

func TestParseDecisionIsIdempotentOnFeedback(t *testing.T) {
	first := ParseDecision("Do this better.\nREVISION_NEEDED")
	second := ParseDecision(first.Feedback + "\nREVISION_NEEDED")
	assert.Equal(t, first.Approved, second.Approved)
}

func TestBuildReviewPromptAppendsFinalIterationWarning(t *testing.T) {
	p := BuildReviewPrompt("", "do the thing", "output", 3, 3, "")
	assert.True(t, strings.Contains(p, "final iteration"))
	assert.True(t, strings.Contains(p, "iteration 3/3"))
}

func TestBuildReviewPromptIncludesPreviousFeedbackFromSecondIteration(t *testing.T) {
	p := BuildReviewPrompt("", "task", "out", 2, 5, "fix the bug")
	assert.True(t, strings.Contains(p, "Previous Review Feedback"))
	assert.True(t, strings.Contains(p, "fix the bug"))
}

func TestBuildReviewerSystemPromptAppendsProtocolBlock(t *testing.T) {
	p := BuildReviewerSystemPrompt("You are a careful reviewer.")
	assert.True(t, strings.Contains(p, "You are a careful reviewer."))
	assert.True(t, strings.Contains(p, "APPROVED"))
	assert.True(t, strings.Contains(p, "REVISION_NEEDED"))
}

func TestBuildRevisionPromptEmbedsFeedback(t *testing.T) {
	p := BuildRevisionPrompt("write docs", "draft v1", "too terse")
	assert.True(t, strings.Contains(p, "write docs"))
	assert.True(t, strings.Contains(p, "draft v1"))
	assert.True(t, strings.Contains(p, "too terse"))
}
