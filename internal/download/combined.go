package download

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nchapman/modelfetch/internal/logs"
)

const defaultParallelParts = 4

// Combined drives several transfers as one logical download, e.g. the parts
// of a split model. Parts run concurrently up to a limit; the first failure
// cancels the rest. Progress is the mean of part progress weighted by size.
type Combined struct {
	parts    []*Transfer
	parallel int

	mu       sync.Mutex
	observer Observer
	weights  []float64
	progress float64
}

// NewCombined creates a combined download. parallel <= 0 uses a default.
func NewCombined(parts []*Transfer, parallel int) *Combined {
	if parallel <= 0 {
		parallel = defaultParallelParts
	}
	return &Combined{
		parts:    parts,
		parallel: parallel,
		observer: nopObserver{},
	}
}

func (c *Combined) WithObserver(o Observer) *Combined {
	if o == nil {
		o = nopObserver{}
	}
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
	return c
}

// Paths returns the destination of every part, in order.
func (c *Combined) Paths() []string {
	paths := make([]string, len(c.parts))
	for i, p := range c.parts {
		paths[i] = p.Dest()
	}
	return paths
}

func (c *Combined) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

func (c *Combined) Run(ctx context.Context) error {
	weights := c.weigh(ctx)
	c.mu.Lock()
	c.weights = weights
	observer := c.observer
	c.mu.Unlock()

	for _, p := range c.parts {
		p.WithObserver(ObserverFuncs{
			Progress: func(float64) { c.update() },
		})
	}
	c.update()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for _, p := range c.parts {
		p := p
		g.Go(func() error {
			return p.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		observer.OnFailed(err)
		return err
	}

	c.report(1)
	observer.OnFinished()
	return nil
}

// weigh sizes every part. Parts whose size cannot be learned weigh the
// average of the known ones, or all parts weigh the same.
func (c *Combined) weigh(ctx context.Context) []float64 {
	sizes := make([]int64, len(c.parts))

	var g errgroup.Group
	g.SetLimit(c.parallel)
	for i, p := range c.parts {
		i, p := i, p
		g.Go(func() error {
			size, err := p.Size(ctx)
			if err != nil {
				logs.Debug("Could not size part", "url", p.URL(), "error", err)
				return nil
			}
			sizes[i] = size
			return nil
		})
	}
	g.Wait()

	var known int64
	var count int
	for _, s := range sizes {
		if s > 0 {
			known += s
			count++
		}
	}

	fallback := 1.0
	if count > 0 {
		fallback = float64(known) / float64(count)
	}

	weights := make([]float64, len(sizes))
	for i, s := range sizes {
		if s > 0 {
			weights[i] = float64(s)
		} else {
			weights[i] = fallback
		}
	}
	return weights
}

func (c *Combined) update() {
	c.mu.Lock()
	weights := c.weights
	c.mu.Unlock()
	if len(weights) != len(c.parts) {
		return
	}

	var done, total float64
	for i, p := range c.parts {
		done += weights[i] * p.Progress()
		total += weights[i]
	}
	if total == 0 {
		return
	}
	c.report(min(done/total, maxRunningProgress))
}

func (c *Combined) report(fraction float64) {
	c.mu.Lock()
	if fraction <= c.progress {
		c.mu.Unlock()
		return
	}
	c.progress = fraction
	observer := c.observer
	c.mu.Unlock()

	observer.OnProgress(fraction)
}
