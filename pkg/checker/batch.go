package checker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Summary aggregates a batch of account results.
type Summary struct {
	Executed int `json:"executed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Notified int `json:"notified"`
}

// Summarize counts results by status.
func Summarize(results []AccountResult) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusExecuted:
			s.Executed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
		s.Notified += r.Notified
	}
	return s
}

// RunAll checks every enabled account. Accounts run in parallel up to the
// configured concurrency and one account's failure never stops the others.
func (c *Checker) RunAll(ctx context.Context) ([]AccountResult, error) {
	ids, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	return c.RunAccounts(ctx, ids), nil
}

// RunAccounts checks the given accounts; results keep the input order.
func (c *Checker) RunAccounts(ctx context.Context, ids []string) []AccountResult {
	results := make([]AccountResult, len(ids))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = c.Check(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	c.logger.Info("alert batch finished",
		"accounts", len(ids),
		"executed", s.Executed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"notified", s.Notified,
	)
	return results
}
