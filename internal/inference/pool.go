package inference

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrPoolClosed is returned for requests made after Close.
var ErrPoolClosed = errors.New("generator pool is closed")

// Pool serializes access to single-instance generators. Each worker owns
// exactly one generator; requests wait in a bounded queue until a worker is
// free. Pool itself is safe for concurrent use.
type Pool struct {
	generators []Generator
	jobs       chan job
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type job struct {
	ctx    context.Context
	prompt string
	result chan<- jobResult
}

type jobResult struct {
	raw string
	err error
}

// NewPool starts one worker per generator. queueSize bounds the number of
// requests waiting for a worker; callers beyond it block until space frees
// up or their context ends.
func NewPool(generators []Generator, queueSize int) (*Pool, error) {
	if len(generators) == 0 {
		return nil, Wrap("pool", errors.New("at least one generator is required"))
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		generators: generators,
		jobs:       make(chan job, queueSize),
		done:       make(chan struct{}),
	}
	for _, g := range generators {
		p.wg.Add(1)
		go p.work(g)
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.generators)
}

// Generate queues prompt for the next free worker and waits for its result.
func (p *Pool) Generate(ctx context.Context, prompt string) (string, error) {
	result := make(chan jobResult, 1)

	select {
	case p.jobs <- job{ctx: ctx, prompt: prompt, result: result}:
	case <-ctx.Done():
		return "", Wrap("pool", ctx.Err())
	case <-p.done:
		return "", Wrap("pool", ErrPoolClosed)
	}

	select {
	case r := <-result:
		return r.raw, r.err
	case <-ctx.Done():
		return "", Wrap("pool", ctx.Err())
	case <-p.done:
		return "", Wrap("pool", ErrPoolClosed)
	}
}

func (p *Pool) work(g Generator) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			// The caller may have given up while queued
			if err := j.ctx.Err(); err != nil {
				j.result <- jobResult{err: Wrap("pool", err)}
				continue
			}
			raw, err := g.Generate(j.ctx, j.prompt)
			j.result <- jobResult{raw: raw, err: Wrap("pool", err)}
		}
	}
}

// Close stops the workers and closes every generator that holds resources.
func (p *Pool) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		for _, g := range p.generators {
			if c, ok := g.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}
