package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coinstax/reddit-ai-automod-sub000/internal/types"
)

// batchWire is the JSON shape providers must return.
type batchWire struct {
	Answers []types.AIAnswer `json:"answers"`
}

// ParseResponse validates provider output against the answer schema. Fails
// closed: any missing question, unknown id, bad answer value, or confidence
// out of range rejects the whole batch.
func ParseResponse(text string, questionIDs []string) ([]types.AIAnswer, error) {
	text = strings.TrimSpace(text)
	// Some models wrap JSON in a fenced block despite instructions.
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var wire batchWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return validateAnswers(wire.Answers, questionIDs)
}

func validateAnswers(answers []types.AIAnswer, questionIDs []string) ([]types.AIAnswer, error) {
	wanted := make(map[string]bool, len(questionIDs))
	for _, id := range questionIDs {
		wanted[id] = true
	}

	seen := make(map[string]bool, len(answers))
	for i := range answers {
		a := &answers[i]
		if !wanted[a.QuestionID] {
			return nil, fmt.Errorf("%w: unexpected question id %q", ErrInvalidResponse, a.QuestionID)
		}
		if seen[a.QuestionID] {
			return nil, fmt.Errorf("%w: duplicate answer for %q", ErrInvalidResponse, a.QuestionID)
		}
		seen[a.QuestionID] = true

		a.Answer = strings.ToUpper(strings.TrimSpace(a.Answer))
		if a.Answer != "YES" && a.Answer != "NO" {
			return nil, fmt.Errorf("%w: answer for %q must be YES or NO, got %q", ErrInvalidResponse, a.QuestionID, a.Answer)
		}
		if a.Confidence < 0 || a.Confidence > 100 {
			return nil, fmt.Errorf("%w: confidence for %q out of [0,100]: %v", ErrInvalidResponse, a.QuestionID, a.Confidence)
		}
	}

	for _, id := range questionIDs {
		if !seen[id] {
			return nil, fmt.Errorf("%w: missing answer for %q", ErrInvalidResponse, id)
		}
	}
	return answers, nil
}

// validCachedResult checks a deserialized cache entry still satisfies the
// schema for the requested question set. Corrupt or partial entries are
// treated as misses by the caller.
func validCachedResult(r *types.AIBatchResult, questionIDs []string) bool {
	if r == nil || len(r.Answers) == 0 {
		return false
	}
	_, err := validateAnswers(r.Answers, questionIDs)
	return err == nil
}
