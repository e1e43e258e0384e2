package domain

import "time"

// Interaction is one answered question as recorded by the analytics sink.
// ID is assigned by the store and is zero before the first write.
type Interaction struct {
	ID               int64
	Question         string
	Answer           string
	SourceCount      int
	ResponseTimeMS   float64
	SessionID        string
	IsCareerRelated  bool
	LinkedInIncluded bool
	Timestamp        time.Time
	Metadata         map[string]string
}

// AnalyticsStats describes the analytics database itself.
type AnalyticsStats struct {
	TotalRecords  int        `json:"total_records"`
	Earliest      *time.Time `json:"earliest"`
	Latest        *time.Time `json:"latest"`
	SizeBytes     int64      `json:"size_bytes"`
	Path          string     `json:"path,omitempty"`
	SchemaVersion int        `json:"schema_version"`
}

// PrefixCount is how often a question prefix was asked.
type PrefixCount struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

// AnalyticsSummary aggregates interactions over a period.
type AnalyticsSummary struct {
	PeriodDays            int           `json:"period_days"`
	TotalInteractions     int           `json:"total_interactions"`
	CareerQuestions       int           `json:"career_questions"`
	LinkedInInclusions    int           `json:"linkedin_inclusions"`
	AvgResponseTimeMS     *float64      `json:"avg_response_time_ms"`
	CareerQuestionRate    float64       `json:"career_question_rate"`
	LinkedInInclusionRate float64       `json:"linkedin_inclusion_rate"`
	CommonPatterns        []PrefixCount `json:"common_question_patterns"`
}
