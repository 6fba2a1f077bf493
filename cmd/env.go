package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearstage/enhance/internal/config"
	"github.com/clearstage/enhance/internal/formula"
	"github.com/clearstage/enhance/internal/impute"
	"github.com/clearstage/enhance/internal/match"
	"github.com/clearstage/enhance/internal/quality"
	"github.com/clearstage/enhance/internal/staging"
)

// env bundles the store and manager a command operates on.
type env struct {
	store   staging.Store
	manager *staging.Manager
}

func (e *env) Close() {
	_ = e.store.Close()
}

func initStore(ctx context.Context) (staging.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enhance.db"
		}
		return staging.NewSQLite(dsn)
	case "postgres":
		return staging.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv loads the registries, opens the store, and wires the manager.
func initEnv(ctx context.Context) (*env, error) {
	policies, err := config.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	formulas, err := config.LoadFormulas(cfg.FormulaFile)
	if err != nil {
		return nil, err
	}

	store, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	tol, err := toleranceFrom(cfg.Formula)
	if err != nil {
		store.Close()
		return nil, err
	}

	mgr, err := staging.NewManager(
		store,
		policies,
		formulas,
		matchConfigFrom(cfg.Match),
		tol,
		impute.Config{MissingRatioCeiling: cfg.Impute.MissingRatioCeiling},
		qualityConfigFrom(cfg.Quality),
		stagingConfigFrom(cfg.Staging),
	)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := mgr.SeedUsage(ctx); err != nil {
		store.Close()
		return nil, err
	}

	return &env{store: store, manager: mgr}, nil
}

func matchConfigFrom(c config.MatchConfig) match.Config {
	return match.Config{
		Threshold:       c.Threshold,
		AmbiguityMargin: c.AmbiguityMargin,
		MaxCandidates:   c.MaxCandidates,
		Concurrency:     c.Concurrency,
		Weights: match.Weights{
			ExactCode: c.ExactCodeWeight,
			Name:      c.NameWeight,
			Phonetic:  c.PhoneticWeight,
			Usage:     c.UsageWeight,
		},
	}
}

func toleranceFrom(c config.FormulaConfig) (formula.Tolerance, error) {
	abs, err := decimal.NewFromString(c.AbsTolerance)
	if err != nil {
		return formula.Tolerance{}, eris.Wrapf(err, "parse abs_tolerance %q", c.AbsTolerance)
	}
	rel, err := decimal.NewFromString(c.RelTolerance)
	if err != nil {
		return formula.Tolerance{}, eris.Wrapf(err, "parse rel_tolerance %q", c.RelTolerance)
	}
	return formula.Tolerance{Abs: abs, Rel: rel}, nil
}

func qualityConfigFrom(c config.QualityConfig) quality.Config {
	qc := quality.DefaultConfig()
	qc.Weights = quality.Weights{
		Completeness:        c.CompletenessWeight,
		Accuracy:            c.AccuracyWeight,
		Consistency:         c.ConsistencyWeight,
		Timeliness:          c.TimelinessWeight,
		Uniqueness:          c.UniquenessWeight,
		Compliance:          c.ComplianceWeight,
		RelationalIntegrity: c.RelationalIntegrityWeight,
	}
	qc.Thresholds = quality.Thresholds{
		Excellent: c.ExcellentThreshold,
		Good:      c.GoodThreshold,
		Fixable:   c.FixableThreshold,
	}
	if c.RecordDateField != "" {
		qc.RecordDateField = c.RecordDateField
	}
	if c.FreshnessDays > 0 {
		qc.FreshnessWindow = time.Duration(c.FreshnessDays) * 24 * time.Hour
	}
	return qc
}

func stagingConfigFrom(c config.StagingConfig) staging.Config {
	return staging.Config{
		Expiry:         c.Expiry(),
		Retention:      c.Retention(),
		SweepInterval:  c.SweepInterval(),
		PurgePerSecond: c.PurgePerSecond,
		UsageTTL:       c.UsageTTL(),
	}
}
