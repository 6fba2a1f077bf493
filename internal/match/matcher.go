package match

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearstage/enhance/internal/model"
)

// Config controls matching behavior.
type Config struct {
	// Threshold is the minimum composite score for a candidate to be
	// returned at all.
	Threshold float64 `mapstructure:"threshold"`
	// AmbiguityMargin: when the top two candidates score within this
	// margin the outcome is classified ambiguous for manual resolution.
	AmbiguityMargin float64 `mapstructure:"ambiguity_margin"`
	// MaxCandidates caps the ranked candidate list per record field.
	MaxCandidates int `mapstructure:"max_candidates"`
	// Concurrency bounds record-parallel scoring. <=0 means sequential.
	Concurrency int `mapstructure:"concurrency"`
	Weights     Weights `mapstructure:"weights"`
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.75,
		AmbiguityMargin: 0.05,
		MaxCandidates:   5,
		Concurrency:     8,
		Weights:         DefaultWeights(),
	}
}

// Snapshot is a point-in-time view of the master data store. The matcher
// is pure given its inputs and a snapshot.
type Snapshot struct {
	byType map[string][]model.MasterEntity
	byCode map[string]model.MasterEntity
}

// NewSnapshot indexes master entities by type and by normalized code.
func NewSnapshot(entities []model.MasterEntity) *Snapshot {
	s := &Snapshot{
		byType: make(map[string][]model.MasterEntity),
		byCode: make(map[string]model.MasterEntity),
	}
	for _, e := range entities {
		s.byType[e.EntityType] = append(s.byType[e.EntityType], e)
		if e.Code != "" {
			s.byCode[NormalizeCode(e.Code)] = e
		}
	}
	return s
}

// Entities returns the entities of one type.
func (s *Snapshot) Entities(entityType string) []model.MasterEntity {
	return s.byType[entityType]
}

// ByCode looks up an entity by normalized registration code.
func (s *Snapshot) ByCode(code string) (model.MasterEntity, bool) {
	e, ok := s.byCode[code]
	return e, ok
}

// Matcher resolves record fields to master-data entities. It has no side
// effects beyond reads of the snapshot and usage cache.
type Matcher struct {
	cfg   Config
	usage *UsageCache
}

// New creates a Matcher. usage may be nil when no history is available.
func New(cfg Config, usage *UsageCache) *Matcher {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	return &Matcher{cfg: cfg, usage: usage}
}

// MatchBatch resolves every master-data reference field of every record
// against the snapshot. Records are scored in parallel; outcome order
// follows record order, then the policy's reference field order.
func (m *Matcher) MatchBatch(ctx context.Context, records []model.ImportRecord, policies *model.PolicyRegistry, snap *Snapshot) ([]model.MatchOutcome, error) {
	refs := policies.References()
	if len(refs) == 0 || len(records) == 0 {
		return nil, nil
	}

	perRecord := make([][]model.MatchOutcome, len(records))

	g, gCtx := errgroup.WithContext(ctx)
	if m.cfg.Concurrency > 0 {
		g.SetLimit(m.cfg.Concurrency)
	}
	for i := range records {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var outcomes []model.MatchOutcome
			for _, p := range refs {
				outcomes = append(outcomes, m.matchField(records[i], p, snap))
			}
			perRecord[i] = outcomes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []model.MatchOutcome
	for _, outcomes := range perRecord {
		all = append(all, outcomes...)
	}
	return all, nil
}

// matchField resolves one record field against entities of the policy's
// master entity type.
func (m *Matcher) matchField(rec model.ImportRecord, p *model.FieldPolicy, snap *Snapshot) model.MatchOutcome {
	out := model.MatchOutcome{
		RowIndex:       rec.RowIndex,
		Field:          p.Field,
		Classification: model.MatchUnmatched,
	}

	raw, ok := rec.Get(p.Field)
	if !ok {
		return out
	}

	// A valid checksum code with an exact hit short-circuits scoring.
	code := NormalizeCode(raw)
	if ValidCode(code) {
		if e, hit := snap.ByCode(code); hit && e.EntityType == p.MasterEntityType {
			out.Classification = model.MatchMatched
			out.Candidates = []model.MatchCandidate{{
				EntityID:      e.ID,
				Confidence:    1.0,
				MatchedFields: []string{p.Field},
				Breakdown:     model.MatchScoreBreakdown{ExactCode: 1},
			}}
			return out
		}
	}

	query := NormalizeName(raw)
	if query == "" {
		return out
	}

	var candidates []model.MatchCandidate
	for _, e := range snap.Entities(p.MasterEntityType) {
		usageCount := 0
		if m.usage != nil {
			usageCount = m.usage.Count(e.ID)
		}
		codeMatch := e.Code != "" && NormalizeCode(e.Code) == code
		score, bd := scoreCandidate(query, e, codeMatch, usageCount, m.cfg.Weights)
		if score < m.cfg.Threshold {
			continue
		}
		candidates = append(candidates, model.MatchCandidate{
			EntityID:      e.ID,
			Confidence:    score,
			MatchedFields: []string{p.Field},
			Breakdown:     bd,
		})
	}
	if len(candidates) == 0 {
		return out
	}

	m.rank(candidates)
	if len(candidates) > m.cfg.MaxCandidates {
		candidates = candidates[:m.cfg.MaxCandidates]
	}
	out.Candidates = candidates

	if len(candidates) > 1 && candidates[0].Confidence-candidates[1].Confidence < m.cfg.AmbiguityMargin {
		out.Classification = model.MatchAmbiguous
		zap.L().Debug("match: ambiguous candidates",
			zap.Int("row", rec.RowIndex),
			zap.String("field", p.Field),
			zap.Float64("top", candidates[0].Confidence),
			zap.Float64("runner_up", candidates[1].Confidence),
		)
		return out
	}

	out.Classification = model.MatchMatched
	return out
}

// rank orders candidates by score descending; ties break by
// most-recently-used, then by lowest entity id for determinism.
func (m *Matcher) rank(candidates []model.MatchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if m.usage != nil {
			la, lb := m.usage.LastUsed(a.EntityID), m.usage.LastUsed(b.EntityID)
			if !la.Equal(lb) {
				return la.After(lb)
			}
		}
		return a.EntityID < b.EntityID
	})
}
