// Package prompt assembles the chat completion prompt from retrieved documents.
package prompt

import (
	"strings"

	"github.com/kailas-cloud/portfolioqa/internal/domain"
)

// DefaultSubject names the person when no subject is configured.
const DefaultSubject = "the candidate"

// DeclineSentence is what the model is told to answer when the context is insufficient.
const DeclineSentence = "This information isn't available in my current knowledge base"

// Builder renders prompts for one subject. The output is a pure function of its inputs.
type Builder struct {
	subject string
}

// NewBuilder creates a builder. An empty subject uses DefaultSubject.
func NewBuilder(subject string) *Builder {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultSubject
	}
	return &Builder{subject: subject}
}

// Subject returns the configured subject name.
func (b *Builder) Subject() string { return b.subject }

// Build renders INSTRUCTIONS, the optional contact line, CONTEXT and QUESTION, in that order.
// The question is passed through verbatim. An empty contactLine removes exactly its one line.
func (b *Builder) Build(question string, docs []domain.Document, contactLine string) string {
	var sb strings.Builder

	sb.WriteString("Given the following context about ")
	sb.WriteString(possessive(b.subject))
	sb.WriteString(" professional background, provide an accurate response that demonstrates their qualifications and expertise.\n\n")

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Use ONLY information from the provided context - never fabricate details\n")
	sb.WriteString("- Maintain a professional, interview-appropriate tone throughout\n")
	sb.WriteString("- Provide specific examples and concrete details when available\n")
	sb.WriteString("- If information isn't in the context, clearly state \"" + DeclineSentence + "\"\n")
	sb.WriteString("- Structure responses clearly with proper formatting\n")
	if contactLine != "" {
		sb.WriteString(contactLine)
		sb.WriteString("\n")
	}

	sb.WriteString("\nCONTEXT:\n")
	for i, d := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(d.Body)
	}

	sb.WriteString("\n\nQUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\n\nANSWER:")

	return sb.String()
}

func possessive(name string) string {
	if strings.HasSuffix(name, "s") {
		return name + "'"
	}
	return name + "'s"
}
