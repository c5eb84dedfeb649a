package entity

import "time"

// AnalysisResultId is the opaque store-assigned identity of an AnalysisResult.
type AnalysisResultId int64

// AnalysisResult is a (node_id, kind)-unique record carrying a JSON payload,
// an input hash used for staleness detection, and a computed-at timestamp.
type AnalysisResult struct {
	ID         AnalysisResultId       `json:"id" db:"id"`
	NodeID     NodeId                 `json:"node_id" db:"node_id"`
	Kind       AnalysisKind           `json:"kind" db:"kind"`
	Payload    map[string]interface{} `json:"payload" db:"-"`
	InputHash  string                 `json:"input_hash" db:"input_hash"`
	ComputedAt time.Time              `json:"computed_at" db:"computed_at"`
}

// ItemError captures one item's failure within a per-run analyzer batch.
// The run continues past individual failures; these are aggregated rather
// than aborting the batch.
type ItemError struct {
	Label string
	Err   error
}

// AnalyzeStats is the result of one analyzer run: how many nodes were
// touched and which ones failed.
type AnalyzeStats struct {
	AnalyzerName string
	NodesWritten int
	Errors       []ItemError
}

// AddError appends a per-item failure without aborting the run.
func (s *AnalyzeStats) AddError(label string, err error) {
	s.Errors = append(s.Errors, ItemError{Label: label, Err: err})
}
