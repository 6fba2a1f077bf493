package model

// Verdict is the batch/record quality classification.
type Verdict string

const (
	VerdictExcellent Verdict = "excellent"
	VerdictGood      Verdict = "good"
	VerdictFixable   Verdict = "fixable"
	VerdictRejected  Verdict = "rejected"
)

// QualityDimensions holds the seven independent dimension scores, each in
// [0,1].
type QualityDimensions struct {
	Completeness        float64 `json:"completeness"`
	Accuracy            float64 `json:"accuracy"`
	Consistency         float64 `json:"consistency"`
	Timeliness          float64 `json:"timeliness"`
	Uniqueness          float64 `json:"uniqueness"`
	Compliance          float64 `json:"compliance"`
	RelationalIntegrity float64 `json:"relational_integrity"`
}

// QualityScore is the assessed quality of one record.
type QualityScore struct {
	RowIndex   int               `json:"row_index"`
	Dimensions QualityDimensions `json:"dimensions"`
	Overall    float64           `json:"overall"`
	Verdict    Verdict           `json:"verdict"`
}

// BatchQuality aggregates record scores into a batch verdict.
type BatchQuality struct {
	Records    []QualityScore    `json:"records"`
	Dimensions QualityDimensions `json:"dimensions"`
	Overall    float64           `json:"overall"`
	Verdict    Verdict           `json:"verdict"`
}
