package workflow

import "strings"

// ValidateDecision checks a decision submission before it is sent. The
// comment is the audit trail for the verdict and is required for both
// approve and reject.
func ValidateDecision(stage int, decision Decision, comment string) error {
	if stage <= 0 {
		return invalid("stage", "a positive stage number is required")
	}
	if !decision.Valid() {
		return invalid("decision", "decision must be approve or reject")
	}
	if strings.TrimSpace(comment) == "" {
		return invalid("comment", "a comment is required")
	}
	return nil
}

func ValidateComment(text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid("text", "comment text is required")
	}
	return nil
}
