package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/agx/internal/models"
	"golang.org/x/time/rate"
)

// QuotaFetcher refreshes the quota of a single account.
type QuotaFetcher interface {
	RefreshQuota(ctx context.Context, accountID string) (*models.Quota, error)
}

// SweepOpts contains configuration for per-account quota refreshes.
type SweepOpts struct {
	NumWorkers int     // Concurrent workers (default: 3, max: 8)
	RateLimit  float64 // Requests per second (default: 5)
}

// QuotaResult is the outcome for one account.
type QuotaResult struct {
	AccountID string
	Quota     *models.Quota
	Error     error
}

// SweepResult collects a quota sweep.
type SweepResult struct {
	Total     int
	Refreshed int
	Failed    int
	Results   []QuotaResult
}

// SweepQuotas refreshes every account in ids with a rate limited worker pool.
//
// Failures are recorded per account and never stop the sweep. Results arrive in completion order.
func SweepQuotas(ctx context.Context, prog chan<- ProgressUpdate, f QuotaFetcher, ids []string, opts SweepOpts) (*SweepResult, error) {
	if f == nil {
		return nil, fmt.Errorf("quota fetcher not initialized")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 3
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	result := &SweepResult{Total: len(ids), Results: make([]QuotaResult, 0, len(ids))}
	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan string, len(ids))
	results := make(chan QuotaResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go sweepWorker(ctx, &wg, f, limiter, jobs, results)
	}

	for _, id := range ids {
		jobs <- id
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)
		if res.Error == nil {
			result.Refreshed++
		} else {
			result.Failed++
		}
		sendProgress(prog, sweepUpdate(completed, len(ids), res.AccountID, res.Error))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func sweepWorker(ctx context.Context, wg *sync.WaitGroup, f QuotaFetcher, limiter *rate.Limiter, jobs <-chan string, results chan<- QuotaResult) {
	defer wg.Done()

	for id := range jobs {
		if err := limiter.Wait(ctx); err != nil {
			results <- QuotaResult{AccountID: id, Error: err}
			continue
		}
		quota, err := f.RefreshQuota(ctx, id)
		results <- QuotaResult{AccountID: id, Quota: quota, Error: err}
	}
}
