package dag

import (
	"fmt"
	"strings"
)

// Decision is the parsed outcome of a reviewer's output, per SPEC_FULL.md
// §4.5.1's tail-marker protocol.
type Decision struct {
	Approved bool
	Feedback string
}

// ParseDecision scans the reviewer's output from the end, skipping blank
// lines, for an exact "APPROVED" or "REVISION_NEEDED" marker; failing that
// it falls back to a case-insensitive substring check over the final 200
// characters. It never panics or errors — an unparseable review defaults to
// rejected, with the entire output as feedback.
func ParseDecision(output string) Decision {
	lines := strings.Split(output, "\n")
	lastIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			lastIdx = i
			break
		}
	}
	if lastIdx >= 0 {
		trimmed := strings.TrimSpace(lines[lastIdx])
		switch trimmed {
		case "APPROVED":
			return Decision{Approved: true, Feedback: strings.Join(lines[:lastIdx], "\n")}
		case "REVISION_NEEDED":
			return Decision{Approved: false, Feedback: strings.Join(lines[:lastIdx], "\n")}
		}
	}

	tail := output
	if len(tail) > 200 {
		tail = tail[len(tail)-200:]
	}
	lower := strings.ToLower(tail)
	if strings.Contains(lower, "approved") && !strings.Contains(lower, "not approved") && !strings.Contains(lower, "revision") {
		return Decision{Approved: true, Feedback: output}
	}
	return Decision{Approved: false, Feedback: output}
}

const reviewProtocolBlock = `
## Review Protocol
You must end your response with exactly one of the following on its own final line:
APPROVED
REVISION_NEEDED
`

// BuildReviewPrompt assembles the reviewer's task text for the given
// iteration, per SPEC_FULL.md §4.5.1 step 1.
func BuildReviewPrompt(template, task, workerOutput string, iteration, maxIterations int, previousFeedback string) string {
	var prompt string
	if strings.TrimSpace(template) != "" {
		prompt = strings.NewReplacer("{output}", workerOutput, "{task}", task).Replace(template)
	} else {
		prompt = fmt.Sprintf("Review the following work against the task.\n\nTask: %s\n\nWork:\n%s", task, workerOutput)
	}
	prompt += fmt.Sprintf("\n\n(iteration %d/%d)", iteration, maxIterations)
	if iteration >= 2 && previousFeedback != "" {
		prompt += "\n\nPrevious Review Feedback:\n" + previousFeedback
	}
	if iteration >= maxIterations {
		prompt += "\n\nThis is the final iteration; the work will be accepted regardless of your decision."
	}
	return prompt
}

// BuildReviewerSystemPrompt appends the fixed protocol block to the
// reviewer's configured system prompt.
func BuildReviewerSystemPrompt(base string) string {
	return strings.TrimRight(base, "\n") + "\n" + reviewProtocolBlock
}

// BuildRevisionPrompt assembles the worker's rerun prompt embedding the
// reviewer's feedback, per SPEC_FULL.md §4.5.1 step 5.
func BuildRevisionPrompt(task, previousOutput, feedback string) string {
	return fmt.Sprintf(
		"Revise your previous work based on reviewer feedback.\n\nOriginal Task: %s\n\nYour Previous Output:\n%s\n\nReviewer Feedback:\n%s",
		task, previousOutput, feedback,
	)
}
