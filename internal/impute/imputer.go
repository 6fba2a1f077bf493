package impute

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/model"
)

// Config controls strategy eligibility.
type Config struct {
	// MissingRatioCeiling caps how much of the batch may be missing a
	// field before neighbor averaging refuses to fill it.
	MissingRatioCeiling float64 `mapstructure:"missing_ratio_ceiling"`
}

// DefaultConfig returns the imputer defaults.
func DefaultConfig() Config {
	return Config{MissingRatioCeiling: 0.4}
}

// Result is the imputer's output for one batch: proposed/auto-approved
// log entries plus the gaps policy refused to fill.
type Result struct {
	Entries []model.ImputationLogEntry
	Gaps    []model.ImputationGap
}

// Imputer fills missing field values under the risk policy. It never
// mutates records; every fill is an append-only log entry.
type Imputer struct {
	cfg Config
	now func() time.Time
}

// New creates an Imputer.
func New(cfg Config) *Imputer {
	if cfg.MissingRatioCeiling <= 0 {
		cfg.MissingRatioCeiling = DefaultConfig().MissingRatioCeiling
	}
	return &Imputer{cfg: cfg, now: time.Now}
}

// Impute scans every record for missing policy fields and produces fills
// where the gate permits. A field failing the gate or lacking a workable
// strategy surfaces as a gap, never an error; single-field failures
// degrade that field only.
func (im *Imputer) Impute(ctx context.Context, records []model.ImportRecord, policies *model.PolicyRegistry) (*Result, error) {
	res := &Result{}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := records[i]
		for j := range policies.Policies {
			p := &policies.Policies[j]
			if rec.Has(p.Field) {
				continue
			}
			im.imputeField(records, rec, p, res)
		}
	}
	return res, nil
}

func (im *Imputer) imputeField(records []model.ImportRecord, rec model.ImportRecord, p *model.FieldPolicy, res *Result) {
	gate := EvaluateGate(p)
	if !gate.Allowed {
		res.Gaps = append(res.Gaps, model.ImputationGap{
			RowIndex: rec.RowIndex,
			Field:    p.Field,
			Reason:   gate.Reason,
		})
		return
	}

	prop, ok := im.selectStrategy(records, rec, p)
	if !ok {
		res.Gaps = append(res.Gaps, model.ImputationGap{
			RowIndex: rec.RowIndex,
			Field:    p.Field,
			Reason:   "no applicable strategy",
		})
		return
	}

	res.Entries = append(res.Entries, model.ImputationLogEntry{
		RowIndex:       rec.RowIndex,
		Field:          p.Field,
		OriginalAbsent: true,
		Value:          prop.Value,
		Method:         prop.Method,
		Confidence:     prop.Confidence,
		RiskTier:       p.RiskTier,
		Approval:       gate.Approval,
		Revertible:     true,
		CreatedAt:      im.now(),
	})

	zap.L().Debug("impute: proposed fill",
		zap.Int("row", rec.RowIndex),
		zap.String("field", p.Field),
		zap.String("method", string(prop.Method)),
		zap.Float64("confidence", prop.Confidence),
		zap.String("approval", string(gate.Approval)),
	)
}

// selectStrategy tries strategies in auditability order: a declared
// business-rule default always wins; statistical strategies run only when
// no default exists.
func (im *Imputer) selectStrategy(records []model.ImportRecord, rec model.ImportRecord, p *model.FieldPolicy) (proposal, bool) {
	if prop, ok := businessRuleDefault(p); ok {
		return prop, true
	}
	if prop, ok := neighborAverage(records, rec, p, im.cfg.MissingRatioCeiling); ok {
		return prop, true
	}
	if prop, ok := regressionPredict(records, rec, p); ok {
		return prop, true
	}
	if prop, ok := majorityVote(records, rec, p); ok {
		return prop, true
	}
	return proposal{}, false
}
