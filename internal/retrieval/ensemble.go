package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Fan-out defaults.
const (
	// DefaultCandidateFactor scales the per-retriever topK so fusion
	// has enough candidates to rerank.
	DefaultCandidateFactor = 3

	// DefaultRetrieverTimeout bounds each per-retriever search during
	// fan-out. A timed-out retriever counts as failed, not fatal.
	DefaultRetrieverTimeout = 10 * time.Second
)

// WeightedRetriever pairs a retriever with its fusion weight and an
// optional confidence multiplier. Weight controls how much the
// retriever counts towards the final ranking; confidence controls how
// much its raw scores are trusted (StrategyWeighted only).
type WeightedRetriever struct {
	Retriever  Retriever
	Weight     float64
	Confidence float64
}

// EnsembleConfig is an immutable set of weighted retrievers. Mutation
// operations return a new config so in-flight queries never observe a
// change.
type EnsembleConfig struct {
	retrievers []WeightedRetriever
}

// NewEnsembleConfig validates and normalizes the given retrievers.
// Weights are rescaled to sum to 1.0; negative weights and duplicate
// names are rejected. A zero confidence defaults to 1.0.
func NewEnsembleConfig(retrievers ...WeightedRetriever) (*EnsembleConfig, error) {
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("%w: at least one retriever is required", ErrInvalidArgument)
	}

	var sum float64
	seen := make(map[string]bool, len(retrievers))
	for _, wr := range retrievers {
		if wr.Retriever == nil {
			return nil, fmt.Errorf("%w: nil retriever", ErrInvalidArgument)
		}
		name := wr.Retriever.Name()
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate retriever %q", ErrInvalidArgument, name)
		}
		seen[name] = true
		if wr.Weight < 0 {
			return nil, fmt.Errorf("%w: retriever %q has negative weight %v", ErrInvalidWeights, name, wr.Weight)
		}
		if wr.Confidence < 0 {
			return nil, fmt.Errorf("%w: retriever %q has negative confidence %v", ErrInvalidWeights, name, wr.Confidence)
		}
		sum += wr.Weight
	}
	if sum == 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}

	normalized := make([]WeightedRetriever, len(retrievers))
	for i, wr := range retrievers {
		wr.Weight /= sum
		if wr.Confidence == 0 {
			wr.Confidence = 1.0
		}
		normalized[i] = wr
	}
	return &EnsembleConfig{retrievers: normalized}, nil
}

// Retrievers returns a copy of the configured retrievers.
func (c *EnsembleConfig) Retrievers() []WeightedRetriever {
	out := make([]WeightedRetriever, len(c.retrievers))
	copy(out, c.retrievers)
	return out
}

// Add returns a new config with the retriever appended. Weights are
// renormalized.
func (c *EnsembleConfig) Add(wr WeightedRetriever) (*EnsembleConfig, error) {
	return NewEnsembleConfig(append(c.Retrievers(), wr)...)
}

// Remove returns a new config without the named retriever.
func (c *EnsembleConfig) Remove(name string) (*EnsembleConfig, error) {
	kept := make([]WeightedRetriever, 0, len(c.retrievers))
	for _, wr := range c.retrievers {
		if wr.Retriever.Name() != name {
			kept = append(kept, wr)
		}
	}
	if len(kept) == len(c.retrievers) {
		return nil, fmt.Errorf("%w: no retriever named %q", ErrInvalidArgument, name)
	}
	return NewEnsembleConfig(kept...)
}

// Reweight returns a new config with the named retriever's weight
// changed. Weights are renormalized.
func (c *EnsembleConfig) Reweight(name string, weight float64) (*EnsembleConfig, error) {
	updated := c.Retrievers()
	found := false
	for i := range updated {
		if updated[i].Retriever.Name() == name {
			updated[i].Weight = weight
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no retriever named %q", ErrInvalidArgument, name)
	}
	return NewEnsembleConfig(updated...)
}

// FusedResults is the outcome of one ensemble search. Failures maps
// retriever name to the error that sidelined it; a non-empty Failures
// with non-empty Results means the query degraded gracefully.
type FusedResults struct {
	Results  []Result
	Failures map[string]error
}

// Ensemble fans a query out to every configured retriever and fuses
// their result lists. Stateless between calls.
type Ensemble struct {
	config          *EnsembleConfig
	timeout         time.Duration
	candidateFactor int
}

// EnsembleOption customizes an Ensemble.
type EnsembleOption func(*Ensemble)

// WithRetrieverTimeout bounds each per-retriever search.
func WithRetrieverTimeout(d time.Duration) EnsembleOption {
	return func(e *Ensemble) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCandidateFactor sets the multiplier applied to topK for each
// retriever's local search.
func WithCandidateFactor(factor int) EnsembleOption {
	return func(e *Ensemble) {
		if factor > 0 {
			e.candidateFactor = factor
		}
	}
}

// NewEnsemble creates a fusion engine over the given configuration.
func NewEnsemble(config *EnsembleConfig, opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		config:          config,
		timeout:         DefaultRetrieverTimeout,
		candidateFactor: DefaultCandidateFactor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search runs every retriever concurrently and fuses the lists under
// the chosen strategy. A failed retriever contributes an empty list
// and is recorded in Failures; only when every retriever fails does
// Search return ErrAllRetrieversFailed.
func (e *Ensemble) Search(ctx context.Context, query string, topK int, strategy Strategy, opts Options) (*FusedResults, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	retrievers := e.config.retrievers
	localTopK := topK * e.candidateFactor

	var (
		mu          sync.Mutex
		lists       = make(map[string][]Result, len(retrievers))
		weights     = make(map[string]float64, len(retrievers))
		confidences = make(map[string]float64, len(retrievers))
		failures    = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, wr := range retrievers {
		wr := wr
		name := wr.Retriever.Name()
		weights[name] = wr.Weight
		confidences[name] = wr.Confidence

		g.Go(func() error {
			searchCtx, cancel := context.WithTimeout(gctx, e.timeout)
			defer cancel()

			results, err := wr.Retriever.Search(searchCtx, query, localTopK, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[name] = err
				return nil
			}
			lists[name] = results
			return nil
		})
	}
	// Goroutines never return errors; Wait orders the map writes.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failures) == len(retrievers) {
		return nil, fmt.Errorf("%w: %d retriever(s) failed", ErrAllRetrieversFailed, len(failures))
	}

	return &FusedResults{
		Results:  fuse(strategy, lists, weights, confidences, topK),
		Failures: failures,
	}, nil
}

// HealthCheck probes every configured retriever concurrently.
func (e *Ensemble) HealthCheck(ctx context.Context) map[string]bool {
	var mu sync.Mutex
	health := make(map[string]bool, len(e.config.retrievers))

	g, gctx := errgroup.WithContext(ctx)
	for _, wr := range e.config.retrievers {
		wr := wr
		g.Go(func() error {
			ok := wr.Retriever.Healthy(gctx)
			mu.Lock()
			health[wr.Retriever.Name()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return health
}
