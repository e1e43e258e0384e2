package domain

import "time"

// Metadata describes where a knowledge base record came from.
type Metadata struct {
	Category string `json:"category,omitempty"`
	Question string `json:"question,omitempty"`
	Keywords string `json:"keywords,omitempty"`
	Source   string `json:"source"`
	Row      int    `json:"row"`
}

// Document is one knowledge base record. Body is the text that gets embedded and shown.
type Document struct {
	Body     string   `json:"body"`
	Metadata Metadata `json:"metadata"`
}

// ScoredDocument is a document with its cosine similarity to a query.
type ScoredDocument struct {
	Document Document
	Score    float64
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []ScoredDocument

// Documents strips the scores.
func (r RetrievalResult) Documents() []Document {
	docs := make([]Document, len(r))
	for i, sd := range r {
		docs[i] = sd.Document
	}
	return docs
}

// Query is a question plus the retrieval policy resolved for it.
type Query struct {
	Question    string
	TopK        int
	Threshold   float64
	ContactLine string
}

// AnswerRecord is the outcome of one question.
// Degraded is set when generation failed and Answer holds the fallback text; Err keeps the cause.
type AnswerRecord struct {
	Answer          string
	SourceDocuments []Document
	Latency         time.Duration
	Degraded        bool
	Err             error
}

// ResponseTimeMS returns the latency in milliseconds.
func (a AnswerRecord) ResponseTimeMS() float64 {
	return float64(a.Latency) / float64(time.Millisecond)
}
