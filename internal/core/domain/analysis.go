package domain

import "time"

// AnalysisResult is the classifier verdict for one posting. Produced at
// most once per posting identifier; repeated analysis requests return the
// stored result instead of calling out again.
type AnalysisResult struct {
	PostingID  string
	Score      float64
	Acceptable bool
	Reasoning  string
	Tags       []string
	CreatedAt  time.Time
}
