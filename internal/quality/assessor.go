package quality

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/impute"
	"github.com/clearstage/enhance/internal/model"
)

// Config controls assessment.
type Config struct {
	Weights    Weights    `mapstructure:"weights"`
	Thresholds Thresholds `mapstructure:"thresholds"`
	// RecordDateField names the canonical field carrying the record's
	// business date for the timeliness dimension. Empty disables it.
	RecordDateField string `mapstructure:"record_date_field"`
	// FreshnessWindow is the age at which timeliness reaches zero.
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
	// DateLayout parses RecordDateField values. Defaults to 2006-01-02.
	DateLayout string `mapstructure:"date_layout"`
}

// DefaultConfig returns the assessor defaults.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		Thresholds:      DefaultThresholds(),
		RecordDateField: "record_date",
		FreshnessWindow: 90 * 24 * time.Hour,
		DateLayout:      "2006-01-02",
	}
}

// Inputs carries the upstream stage outputs the assessor scores against.
type Inputs struct {
	Policies    *model.PolicyRegistry
	Matches     []model.MatchOutcome
	Conflicts   []model.ConflictReport
	Imputations []model.ImputationLogEntry
	// FormulaCount is how many formulas the conflict detector evaluated
	// per record; conflict-free formulas leave no report, so the count is
	// needed to credit their passes.
	FormulaCount int
}

// Assessor computes the seven quality dimensions per record and
// aggregates them into a batch verdict.
type Assessor struct {
	cfg Config
	now func() time.Time
}

// New creates an Assessor. Invalid thresholds or weights are a
// configuration error.
func New(cfg Config) (*Assessor, error) {
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultConfig().DateLayout
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Assessor{cfg: cfg, now: time.Now}, nil
}

// Assess scores every record and the batch aggregate.
func (a *Assessor) Assess(records []model.ImportRecord, in Inputs) *model.BatchQuality {
	matchesByRow := indexMatches(in.Matches)
	conflictsByRow := indexConflicts(in.Conflicts)
	dupRows := duplicateRows(records)

	bq := &model.BatchQuality{}
	var sum model.QualityDimensions
	var overallSum float64

	for i := range records {
		rec := records[i]
		dims := model.QualityDimensions{
			Completeness:        a.scoreCompleteness(rec, in),
			Accuracy:            a.scoreAccuracy(rec, matchesByRow[rec.RowIndex], conflictsByRow[rec.RowIndex], in.FormulaCount),
			Consistency:         a.scoreConsistency(conflictsByRow[rec.RowIndex], in.FormulaCount),
			Timeliness:          a.scoreTimeliness(rec),
			Uniqueness:          boolScore(!dupRows[rec.RowIndex]),
			Compliance:          a.scoreCompliance(rec, in.Policies),
			RelationalIntegrity: a.scoreRelationalIntegrity(rec, in.Policies, matchesByRow[rec.RowIndex]),
		}
		overall := a.aggregate(dims)
		bq.Records = append(bq.Records, model.QualityScore{
			RowIndex:   rec.RowIndex,
			Dimensions: dims,
			Overall:    overall,
			Verdict:    a.cfg.Thresholds.VerdictFor(overall),
		})

		sum.Completeness += dims.Completeness
		sum.Accuracy += dims.Accuracy
		sum.Consistency += dims.Consistency
		sum.Timeliness += dims.Timeliness
		sum.Uniqueness += dims.Uniqueness
		sum.Compliance += dims.Compliance
		sum.RelationalIntegrity += dims.RelationalIntegrity
		overallSum += overall
	}

	n := float64(len(records))
	if n > 0 {
		bq.Dimensions = model.QualityDimensions{
			Completeness:        sum.Completeness / n,
			Accuracy:            sum.Accuracy / n,
			Consistency:         sum.Consistency / n,
			Timeliness:          sum.Timeliness / n,
			Uniqueness:          sum.Uniqueness / n,
			Compliance:          sum.Compliance / n,
			RelationalIntegrity: sum.RelationalIntegrity / n,
		}
		bq.Overall = overallSum / n
	}
	bq.Verdict = a.cfg.Thresholds.VerdictFor(bq.Overall)

	zap.L().Info("quality: batch assessed",
		zap.Int("records", len(records)),
		zap.Float64("overall", bq.Overall),
		zap.String("verdict", string(bq.Verdict)),
	)
	return bq
}

// aggregate combines dimensions with configured weights; zero total
// weight falls back to a uniform average.
func (a *Assessor) aggregate(d model.QualityDimensions) float64 {
	w := a.cfg.Weights
	total := w.Completeness + w.Accuracy + w.Consistency + w.Timeliness + w.Uniqueness + w.Compliance + w.RelationalIntegrity
	if total == 0 {
		return (d.Completeness + d.Accuracy + d.Consistency + d.Timeliness + d.Uniqueness + d.Compliance + d.RelationalIntegrity) / 7
	}
	return (w.Completeness*d.Completeness +
		w.Accuracy*d.Accuracy +
		w.Consistency*d.Consistency +
		w.Timeliness*d.Timeliness +
		w.Uniqueness*d.Uniqueness +
		w.Compliance*d.Compliance +
		w.RelationalIntegrity*d.RelationalIntegrity) / total
}

// scoreCompleteness is non-missing required fields over required fields,
// counting applied imputations as present. Blocked gaps stay missing.
func (a *Assessor) scoreCompleteness(rec model.ImportRecord, in Inputs) float64 {
	required := in.Policies.Required()
	if len(required) == 0 {
		return 1
	}
	present := 0
	for _, p := range required {
		if rec.Has(p.Field) {
			present++
			continue
		}
		if _, ok := impute.Effective(in.Imputations, rec.RowIndex, p.Field); ok {
			present++
		}
	}
	return float64(present) / float64(len(required))
}

// scoreAccuracy is checkable fields passing conflict and match checks
// over checkable fields. Formula checks degraded to insufficient data are
// excluded from the checkable set.
func (a *Assessor) scoreAccuracy(rec model.ImportRecord, matches []model.MatchOutcome, conflicts []model.ConflictReport, formulaCount int) float64 {
	checked := 0
	passed := 0

	failedFields := make(map[string]bool)
	insufficient := 0
	for _, c := range conflicts {
		if c.Insufficient {
			insufficient++
			continue
		}
		failedFields[c.OutputField] = true
		for _, f := range c.Cascade {
			failedFields[f] = true
		}
	}
	if evaluated := formulaCount - insufficient; evaluated > 0 {
		failed := len(failedFields)
		if failed > evaluated {
			failed = evaluated
		}
		checked += evaluated
		passed += evaluated - failed
	}

	for _, m := range matches {
		if !rec.Has(m.Field) {
			continue
		}
		checked++
		if m.Classification == model.MatchMatched {
			passed++
		}
	}

	if checked == 0 {
		return 1
	}
	return float64(passed) / float64(checked)
}

// scoreConsistency measures cross-field rule evaluability: a formula
// whose operands are not jointly declared (insufficient data) is an
// internal inconsistency of the record, scored here rather than under
// accuracy.
func (a *Assessor) scoreConsistency(conflicts []model.ConflictReport, formulaCount int) float64 {
	if formulaCount == 0 {
		return 1
	}
	insufficient := 0
	for _, c := range conflicts {
		if c.Insufficient {
			insufficient++
		}
	}
	return float64(formulaCount-insufficient) / float64(formulaCount)
}

// scoreTimeliness decays linearly from 1 to 0 across the freshness
// window. Records without a parseable date are not penalized.
func (a *Assessor) scoreTimeliness(rec model.ImportRecord) float64 {
	if a.cfg.RecordDateField == "" || a.cfg.FreshnessWindow <= 0 {
		return 1
	}
	raw, ok := rec.Get(a.cfg.RecordDateField)
	if !ok {
		return 1
	}
	t, err := time.Parse(a.cfg.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return 1
	}
	age := a.now().Sub(t)
	if age <= 0 {
		return 1
	}
	score := 1 - float64(age)/float64(a.cfg.FreshnessWindow)
	if score < 0 {
		return 0
	}
	return score
}

// scoreCompliance is fields passing their format rules over fields
// checked.
func (a *Assessor) scoreCompliance(rec model.ImportRecord, policies *model.PolicyRegistry) float64 {
	checked := 0
	passed := 0
	for _, f := range rec.Fields() {
		p := policies.ByField(f.Name)
		if p == nil || p.FormatRegex == nil || f.Absent {
			continue
		}
		checked++
		if p.FormatRegex.MatchString(f.Raw) {
			passed++
		}
	}
	if checked == 0 {
		return 1
	}
	return float64(passed) / float64(checked)
}

// scoreRelationalIntegrity is resolved master-data references over total
// references the record declares.
func (a *Assessor) scoreRelationalIntegrity(rec model.ImportRecord, policies *model.PolicyRegistry, matches []model.MatchOutcome) float64 {
	total := 0
	resolved := 0
	byField := make(map[string]model.MatchClassification, len(matches))
	for _, m := range matches {
		byField[m.Field] = m.Classification
	}
	for _, p := range policies.References() {
		if !rec.Has(p.Field) {
			continue
		}
		total++
		if byField[p.Field] == model.MatchMatched {
			resolved++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(resolved) / float64(total)
}

func indexMatches(matches []model.MatchOutcome) map[int][]model.MatchOutcome {
	m := make(map[int][]model.MatchOutcome)
	for _, o := range matches {
		m[o.RowIndex] = append(m[o.RowIndex], o)
	}
	return m
}

func indexConflicts(conflicts []model.ConflictReport) map[int][]model.ConflictReport {
	m := make(map[int][]model.ConflictReport)
	for _, c := range conflicts {
		m[c.RowIndex] = append(m[c.RowIndex], c)
	}
	return m
}

// duplicateRows flags every row that duplicates an earlier row's full
// field content.
func duplicateRows(records []model.ImportRecord) map[int]bool {
	seen := make(map[string]bool, len(records))
	dups := make(map[int]bool)
	for i := range records {
		var b strings.Builder
		for _, f := range records[i].Fields() {
			if f.Absent {
				continue
			}
			b.WriteString(f.Name)
			b.WriteByte('=')
			b.WriteString(f.Raw)
			b.WriteByte('\x1f')
		}
		key := b.String()
		if seen[key] {
			dups[records[i].RowIndex] = true
		}
		seen[key] = true
	}
	return dups
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
