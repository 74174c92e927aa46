package reader

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Batch holds the usable results of a fan-out. Markdowns[i] was read from
// URLs[i] and the input order of the survivors is preserved.
type Batch struct {
	Markdowns []string
	URLs      []string
}

func (b Batch) Len() int {
	return len(b.URLs)
}

func (b *Batch) append(other Batch) {
	b.Markdowns = append(b.Markdowns, other.Markdowns...)
	b.URLs = append(b.URLs, other.URLs...)
}

// FetchAll fetches every URL concurrently and waits for all of them. Failed
// fetches are dropped without affecting the others.
func (c *Client) FetchAll(ctx context.Context, urls []string) Batch {
	results := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range urls {
		g.Go(func() error {
			results[i] = c.Fetch(gctx, target)
			return nil
		})
	}
	_ = g.Wait()

	batch := Batch{Markdowns: []string{}, URLs: []string{}}
	for _, result := range results {
		if !result.OK() {
			continue
		}
		batch.Markdowns = append(batch.Markdowns, result.Markdown)
		batch.URLs = append(batch.URLs, result.URL)
	}
	c.logger.Debug("reader batch complete", zap.Int("requested", len(urls)), zap.Int("usable", batch.Len()))
	return batch
}

// FetchChunked runs FetchAll over consecutive chunks of size URLs, one chunk
// at a time, and concatenates the results in chunk order.
func (c *Client) FetchChunked(ctx context.Context, urls []string, size int) Batch {
	size = positiveOr(size, DefaultBatchSize)
	batch := Batch{Markdowns: []string{}, URLs: []string{}}
	for start := 0; start < len(urls); start += size {
		if ctx.Err() != nil {
			break
		}
		end := min(start+size, len(urls))
		batch.append(c.FetchAll(ctx, urls[start:end]))
	}
	return batch
}
