package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/ocr"
	"github.com/sells-group/phonetrust/internal/resilience"
	"github.com/sells-group/phonetrust/internal/scoring"
	"github.com/sells-group/phonetrust/internal/store"
	"github.com/sells-group/phonetrust/internal/trust"
	"github.com/sells-group/phonetrust/internal/ussd"
)

// trustEnv holds the store, collaborators and validator used by serve.
type trustEnv struct {
	Store     store.Store
	Calc      *certainty.Calculator
	Breakers  *resilience.ServiceBreakers
	Registry  *prometheus.Registry
	Validator *trust.Validator
}

// Close releases resources held by the environment.
func (te *trustEnv) Close() {
	if te.Store != nil {
		_ = te.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "phonetrust.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("postgres store requires store.database_url (PHONETRUST_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCalculator picks the certainty table source: the store, a YAML file
// or the built-in table.
func initCalculator(st store.Store) (*certainty.Calculator, error) {
	switch cfg.Certainty.Source {
	case "store", "":
		return certainty.NewCalculator(st), nil
	case "file":
		if cfg.Certainty.TablePath == "" {
			return nil, eris.New("certainty.table_path is required for the file source")
		}
		return certainty.NewCalculator(&certainty.FileTableStore{Path: cfg.Certainty.TablePath}), nil
	case "builtin":
		return certainty.NewCalculator(nil), nil
	default:
		return nil, eris.Errorf("unsupported certainty source: %s", cfg.Certainty.Source)
	}
}

// initOCR builds the screenshot analyzer behind the OCR guard.
func initOCR(breakers *resilience.ServiceBreakers) (*ussd.Analyzer, error) {
	retry := resilience.FromRetryConfig(cfg.Scoring.RetryMaxAttempts, cfg.Scoring.RetryInitialBackoffMs, cfg.Scoring.RetryMaxBackoffMs)
	retry.OnRetry = resilience.RetryLogger("ocr", "recognize")
	guard := resilience.NewGuard("ocr", cfg.OCR.RateLimit, 1, breakers.Get("ocr"), retry)

	rec, err := ocr.NewRecognizer(cfg.OCR, guard)
	if err != nil {
		return nil, err
	}
	return ussd.NewAnalyzer(rec, ussd.WithLanguages(cfg.OCR.Languages...)), nil
}

// initEnv opens and migrates the store and wires the validator. Callers
// should defer env.Close().
func initEnv(ctx context.Context) (*trustEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &trustEnv{Store: st}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env.Calc, err = initCalculator(st)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Breakers = resilience.NewServiceBreakers(resilience.FromCircuitConfig(
		cfg.Scoring.CircuitFailureThreshold, cfg.Scoring.CircuitResetTimeoutSecs))

	analyzer, err := initOCR(env.Breakers)
	if err != nil {
		env.Close()
		return nil, err
	}

	scorer, err := scoring.NewScorer(cfg.Scoring, st, env.Calc, env.Breakers.Get("scoring"))
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Registry = prometheus.NewRegistry()
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	env.Validator = trust.NewValidator(st, analyzer, nil, scorer,
		trust.WithMetrics(trust.NewMetrics(env.Registry)))

	zap.L().Info("trust environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("ocr", cfg.OCR.Provider),
		zap.String("scoring", cfg.Scoring.Provider),
		zap.String("certainty", cfg.Certainty.Source),
	)
	return env, nil
}

// healthCheck pings the store with a short deadline.
func (te *trustEnv) healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return te.Store.Ping(ctx)
}
