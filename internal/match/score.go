package match

import (
	"math"

	"github.com/agext/levenshtein"
	"github.com/antzucaro/matchr"

	"github.com/clearstage/enhance/internal/model"
)

// Weights controls how the score components combine. They are normalized
// by their sum at scoring time, so any positive scale works.
type Weights struct {
	ExactCode float64 `mapstructure:"exact_code"`
	Name      float64 `mapstructure:"name"`
	Phonetic  float64 `mapstructure:"phonetic"`
	Usage     float64 `mapstructure:"usage"`
}

// DefaultWeights favors surface similarity, with phonetic similarity
// covering transliterated spellings and usage frequency as a nudge.
func DefaultWeights() Weights {
	return Weights{ExactCode: 0.3, Name: 0.4, Phonetic: 0.2, Usage: 0.1}
}

// surfaceSimilarity is normalized Levenshtein similarity over normalized
// names, in [0,1].
func surfaceSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}

// phoneticSimilarity compares Metaphone keys with Jaro-Winkler, so
// locale-variant spellings of the same spoken name score high.
func phoneticSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ka, _ := matchr.DoubleMetaphone(a)
	kb, _ := matchr.DoubleMetaphone(b)
	if ka == "" || kb == "" {
		return 0
	}
	if ka == kb {
		return 1
	}
	return matchr.JaroWinkler(ka, kb, true)
}

// usageSignal maps a raw usage count onto [0,1) with log damping so a
// frequently chosen candidate cannot dominate the name components.
func usageSignal(count int) float64 {
	if count <= 0 {
		return 0
	}
	return 1 - 1/(1+math.Log1p(float64(count)))
}

// scoreCandidate computes the composite similarity between a normalized
// query and one master entity. codeMatch is true when the record carried
// a valid registration code equal to the entity's. The exact-code weight
// only enters the normalization on a code hit; otherwise a record without
// a code could never clear the match threshold on name alone.
func scoreCandidate(queryName string, entity model.MasterEntity, codeMatch bool, usageCount int, w Weights) (float64, model.MatchScoreBreakdown) {
	bd := model.MatchScoreBreakdown{
		NameSim:  surfaceSimilarity(queryName, NormalizeName(entity.Name)),
		Phonetic: phoneticSimilarity(queryName, NormalizeName(entity.Name)),
		Usage:    usageSignal(usageCount),
	}

	total := w.Name + w.Phonetic + w.Usage
	sum := w.Name*bd.NameSim + w.Phonetic*bd.Phonetic + w.Usage*bd.Usage
	if codeMatch {
		bd.ExactCode = 1
		total += w.ExactCode
		sum += w.ExactCode
	}
	if total <= 0 {
		return bd.NameSim, bd
	}
	return sum / total, bd
}
