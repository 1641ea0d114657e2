package scoring

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/fraudscore/internal/metrics"
	"github.com/mbd888/fraudscore/internal/traces"
)

// BatchFailure describes one request in a batch that produced no verdict.
type BatchFailure struct {
	Index int    `json:"index"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// BatchResult holds the verdicts in request order, with failed items
// omitted and listed in Failures instead.
type BatchResult struct {
	Verdicts []*Verdict     `json:"verdicts"`
	Failures []BatchFailure `json:"failures"`
}

// ScoreBatch scores every request independently with bounded concurrency.
// One item failing never aborts the others, and the batch itself never fails.
func (s *Service) ScoreBatch(ctx context.Context, reqs []TransactionRequest) *BatchResult {
	ctx, span := traces.StartSpan(ctx, "scoring.ScoreBatch", traces.BatchSize(len(reqs)))
	defer span.End()

	verdicts := make([]*Verdict, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i := range reqs {
		g.Go(func() error {
			if err := s.guard(ctx, "score batch item", func() { verdicts[i], errs[i] = s.Score(ctx, reqs[i]) }); err != nil {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{
		Verdicts: make([]*Verdict, 0, len(reqs)),
		Failures: []BatchFailure{},
	}
	log := s.log(ctx)
	for i, err := range errs {
		if err != nil {
			metrics.BatchFailuresTotal.Inc()
			log.Warn("batch item failed", "index", i, "error", err)
			result.Failures = append(result.Failures, BatchFailure{Index: i, Code: ErrorCode(err), Error: err.Error()})
			continue
		}
		result.Verdicts = append(result.Verdicts, verdicts[i])
	}
	return result
}
