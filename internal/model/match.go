package model

// MasterEntity is a canonical master-data row the matcher scores against.
type MasterEntity struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	Code       string `json:"code,omitempty"` // checksum-bearing registration code
	Name       string `json:"name"`
}

// MatchClassification is the terminal outcome of matching one record.
type MatchClassification string

const (
	MatchMatched   MatchClassification = "matched"
	MatchAmbiguous MatchClassification = "ambiguous"
	MatchUnmatched MatchClassification = "unmatched"
)

// MatchScoreBreakdown records the components behind a candidate score.
type MatchScoreBreakdown struct {
	ExactCode float64 `json:"exact_code"`
	NameSim   float64 `json:"name_sim"`
	Phonetic  float64 `json:"phonetic"`
	Usage     float64 `json:"usage"`
}

// MatchCandidate is one scored master-data candidate for a record.
type MatchCandidate struct {
	EntityID      string              `json:"entity_id"`
	Confidence    float64             `json:"confidence"`
	MatchedFields []string            `json:"matched_fields"`
	Breakdown     MatchScoreBreakdown `json:"breakdown"`
}

// MatchOutcome is the matcher's verdict for one record. Unmatched and
// ambiguous are valid terminal classifications requiring manual
// resolution, not errors.
type MatchOutcome struct {
	RowIndex       int                 `json:"row_index"`
	Field          string              `json:"field"`
	Classification MatchClassification `json:"classification"`
	Candidates     []MatchCandidate    `json:"candidates,omitempty"`
}

// Best returns the top-ranked candidate, or nil when there is none.
func (o MatchOutcome) Best() *MatchCandidate {
	if len(o.Candidates) == 0 {
		return nil
	}
	return &o.Candidates[0]
}
