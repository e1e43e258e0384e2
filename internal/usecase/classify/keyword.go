// Package classify tags questions for analytics and contact-link decisions.
package classify

import "strings"

// Classifier decides whether a question is about the subject's career.
type Classifier interface {
	IsCareerRelated(question string) bool
}

// CareerKeywords is the default word list. Matching is by case-insensitive substring,
// so "network" matches "work".
var CareerKeywords = []string{
	"career", "background", "experience", "work", "job", "role",
	"linkedin", "connect", "history", "resume", "cv", "professional",
}

// Keyword classifies by substring match against a fixed word list.
type Keyword struct {
	words []string
}

var _ Classifier = (*Keyword)(nil)

// NewKeyword creates a classifier. No words means CareerKeywords.
func NewKeyword(words ...string) *Keyword {
	if len(words) == 0 {
		words = CareerKeywords
	}
	lower := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			lower = append(lower, w)
		}
	}
	return &Keyword{words: lower}
}

// IsCareerRelated reports whether any keyword occurs in the question.
func (k *Keyword) IsCareerRelated(question string) bool {
	q := strings.ToLower(question)
	for _, w := range k.words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
