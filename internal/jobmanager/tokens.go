package jobmanager

import (
	"context"
	"sync"
)

// CancelToken is a one-shot cancellation flag shared by every worker on a
// job. It composes with context cancellation: Cancel also cancels the
// job's root context so blocking calls (HTTP, subprocess Wait) unwind
// immediately instead of only being checked at the next poll point.
type CancelToken struct {
	cancel context.CancelFunc
	ctx    context.Context
}

func newCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{cancel: cancel, ctx: ctx}
}

func (t *CancelToken) Cancel() { t.cancel() }

func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

// Check returns context.Canceled if the token has fired.
func (t *CancelToken) Check() error {
	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
		return nil
	}
}

// PauseToken lets workers cooperatively block between pages while a job is
// paused, without polling. Resume broadcasts every waiter awake.
type PauseToken struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func newPauseToken() *PauseToken {
	p := &PauseToken{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *PauseToken) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *PauseToken) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// WaitIfPaused blocks while the job is paused, waking early if ctx is
// cancelled — a paused-then-cancelled job must still be able to unwind. The
// wakeup goroutine only exists for the duration of an actual wait, so an
// unpaused fast path never spawns one.
func (p *PauseToken) WaitIfPaused(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stop:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.paused {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return nil
}
