package impute

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/clearstage/enhance/internal/model"
)

// proposal is a candidate fill produced by one strategy.
type proposal struct {
	Value      string
	Method     model.ImputationMethod
	Confidence float64
}

// businessRuleDefault fills from the policy's declared default. It is the
// most auditable strategy and always wins when a default exists.
func businessRuleDefault(p *model.FieldPolicy) (proposal, bool) {
	if p.DefaultValue == nil {
		return proposal{}, false
	}
	return proposal{
		Value:      *p.DefaultValue,
		Method:     model.MethodBusinessRule,
		Confidence: 0.99,
	}, true
}

// neighborAverage fills a numeric field with a similarity-weighted average
// over rows that carry the field, where similarity is computed on the
// policy's correlated fields. Refuses when the field's missing ratio
// across the batch exceeds the ceiling.
func neighborAverage(records []model.ImportRecord, target model.ImportRecord, p *model.FieldPolicy, missingCeiling float64) (proposal, bool) {
	if p.DataType != "numeric" || len(p.CorrelatedFields) == 0 {
		return proposal{}, false
	}

	present := 0
	for i := range records {
		if records[i].Has(p.Field) {
			present++
		}
	}
	if len(records) == 0 || present == 0 {
		return proposal{}, false
	}
	missingRatio := 1 - float64(present)/float64(len(records))
	if missingRatio > missingCeiling {
		return proposal{}, false
	}

	targetVec, ok := numericVector(target, p.CorrelatedFields)
	if !ok {
		return proposal{}, false
	}

	var weightedSum, weightTotal decimal.Decimal
	for i := range records {
		rec := records[i]
		if rec.RowIndex == target.RowIndex {
			continue
		}
		raw, has := rec.Get(p.Field)
		if !has {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		vec, ok := numericVector(rec, p.CorrelatedFields)
		if !ok {
			continue
		}
		w := decimal.NewFromFloat(similarityWeight(targetVec, vec))
		weightedSum = weightedSum.Add(v.Mul(w))
		weightTotal = weightTotal.Add(w)
	}
	if weightTotal.IsZero() {
		return proposal{}, false
	}

	avg := weightedSum.Div(weightTotal).Round(4)
	return proposal{
		Value:      avg.String(),
		Method:     model.MethodNeighborAverage,
		Confidence: 0.7 * (1 - missingRatio),
	}, true
}

// regressionPredict fits a one-predictor least-squares line on the best
// correlated field and predicts the missing value. Confidence is the
// absolute correlation coefficient.
func regressionPredict(records []model.ImportRecord, target model.ImportRecord, p *model.FieldPolicy) (proposal, bool) {
	if p.DataType != "numeric" {
		return proposal{}, false
	}

	best := struct {
		corr, slope, intercept, x float64
		found                     bool
	}{}

	for _, predictor := range p.CorrelatedFields {
		tx, ok := numericValue(target, predictor)
		if !ok {
			continue
		}
		var xs, ys []float64
		for i := range records {
			if records[i].RowIndex == target.RowIndex {
				continue
			}
			x, okX := numericValue(records[i], predictor)
			y, okY := numericValue(records[i], p.Field)
			if okX && okY {
				xs = append(xs, x)
				ys = append(ys, y)
			}
		}
		if len(xs) < 3 {
			continue
		}
		corr, slope, intercept, ok := leastSquares(xs, ys)
		if !ok {
			continue
		}
		if math.Abs(corr) > math.Abs(best.corr) {
			best.corr, best.slope, best.intercept, best.x = corr, slope, intercept, tx
			best.found = true
		}
	}

	if !best.found || math.Abs(best.corr) < 0.5 {
		return proposal{}, false
	}

	predicted := decimal.NewFromFloat(best.intercept + best.slope*best.x).Round(4)
	return proposal{
		Value:      predicted.String(),
		Method:     model.MethodRegression,
		Confidence: math.Abs(best.corr),
	}, true
}

// majorityVote fills a categorical field with the most frequent value
// among rows that carry it. Ties break lexicographically for determinism.
func majorityVote(records []model.ImportRecord, target model.ImportRecord, p *model.FieldPolicy) (proposal, bool) {
	if p.DataType != "categorical" {
		return proposal{}, false
	}

	counts := make(map[string]int)
	total := 0
	for i := range records {
		if records[i].RowIndex == target.RowIndex {
			continue
		}
		if v, ok := records[i].Get(p.Field); ok {
			counts[v]++
			total++
		}
	}
	if total == 0 {
		return proposal{}, false
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		if counts[values[i]] != counts[values[j]] {
			return counts[values[i]] > counts[values[j]]
		}
		return values[i] < values[j]
	})

	winner := values[0]
	confidence := float64(counts[winner]) / float64(total)
	if confidence < 0.5 {
		return proposal{}, false
	}
	return proposal{
		Value:      winner,
		Method:     model.MethodMajorityVote,
		Confidence: confidence,
	}, true
}

func numericValue(rec model.ImportRecord, field string) (float64, bool) {
	raw, ok := rec.Get(field)
	if !ok {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

func numericVector(rec model.ImportRecord, fields []string) ([]float64, bool) {
	vec := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, ok := numericValue(rec, f)
		if !ok {
			return nil, false
		}
		vec = append(vec, v)
	}
	return vec, len(vec) > 0
}

// similarityWeight is an inverse-distance weight between two equal-length
// vectors, in (0,1].
func similarityWeight(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return 1 / (1 + math.Sqrt(sum))
}

// leastSquares fits y = intercept + slope*x and returns Pearson r.
func leastSquares(xs, ys []float64) (corr, slope, intercept float64, ok bool) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
		sumYY += ys[i] * ys[i]
	}
	denomX := n*sumXX - sumX*sumX
	denomY := n*sumYY - sumY*sumY
	if denomX == 0 || denomY == 0 {
		return 0, 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denomX
	intercept = (sumY - slope*sumX) / n
	corr = (n*sumXY - sumX*sumY) / math.Sqrt(denomX*denomY)
	return corr, slope, intercept, true
}
