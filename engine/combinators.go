package engine

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flowgo-dev/flowgo/effect"
)

// sequence runs steps in order against a private scope. Each step sees the
// patches of the steps before it; the first failure aborts the rest. The
// combined result is the union patch, except that a value produced by the
// final step passes through unchanged.
func (e *Engine) sequence(ctx context.Context, seq effect.Sequence, ectx *effect.Context) (effect.Result, error) {
	scope := ectx.Clone()
	combined := effect.NewContext()

	var last effect.Result
	for _, step := range seq.Effects {
		res, err := e.eval(ctx, step, scope)
		if err != nil {
			return effect.Result{}, err
		}
		if res.IsPatch() {
			if patch := res.Patch(); patch != nil {
				scope.Merge(patch)
				combined.Merge(patch)
			}
		}
		last = res
	}
	if !last.IsPatch() {
		return last, nil
	}
	return effect.PatchResult(combined), nil
}

// parallel runs branches concurrently, each against its own clone of the
// context. Any branch failure fails the whole effect. Patches merge in
// branch order, so on key conflicts the later branch wins; value results
// are dropped.
func (e *Engine) parallel(ctx context.Context, par effect.Parallel, ectx *effect.Context) (effect.Result, error) {
	if len(par.Effects) == 0 {
		return effect.PatchResult(nil), nil
	}

	results := make([]effect.Result, len(par.Effects))
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range par.Effects {
		scope := ectx.Clone()
		g.Go(func() error {
			res, err := e.eval(gctx, branch, scope)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return effect.Result{}, err
	}

	combined := effect.NewContext()
	for _, res := range results {
		if res.IsPatch() {
			combined.Merge(res.Patch())
		}
	}
	return effect.PatchResult(combined), nil
}

// race runs branches concurrently and resolves with the first success,
// cancelling the rest. Losing branches are awaited, never re-dispatched.
// If every branch fails, or the optional deadline lapses first, the race
// fails with ErrRaceTimeout.
func (e *Engine) race(ctx context.Context, race effect.Race, ectx *effect.Context) (effect.Result, error) {
	if len(race.Effects) == 0 {
		return effect.Result{}, effect.ErrRaceTimeout
	}

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if race.Timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, race.Timeout)
		defer cancel()
	}

	type outcome struct {
		res effect.Result
		err error
	}
	outcomes := make(chan outcome, len(race.Effects))
	var wg sync.WaitGroup
	for _, branch := range race.Effects {
		wg.Add(1)
		scope := ectx.Clone()
		go func(branch effect.Effect) {
			defer wg.Done()
			res, err := e.eval(rctx, branch, scope)
			outcomes <- outcome{res: res, err: err}
		}(branch)
	}

	var winner *effect.Result
	for range race.Effects {
		select {
		case o := <-outcomes:
			if o.err == nil && winner == nil {
				winner = &o.res
				cancel()
			}
		case <-rctx.Done():
			cancel()
			wg.Wait()
			// A branch may have succeeded just as the deadline fired.
			for len(outcomes) > 0 {
				o := <-outcomes
				if o.err == nil && winner == nil {
					winner = &o.res
				}
			}
			if winner != nil {
				return *winner, nil
			}
			if err := ctx.Err(); err != nil {
				return effect.Result{}, ctxErr(err)
			}
			return effect.Result{}, effect.ErrRaceTimeout
		}
	}
	wg.Wait()
	if winner != nil {
		return *winner, nil
	}
	return effect.Result{}, effect.ErrRaceTimeout
}

// retry invokes the inner effect up to Attempts times, sleeping between
// attempts with exponential backoff from BaseDelay. When every attempt
// fails, the result is a RetriesExhaustedError wrapping the last failure.
func (e *Engine) retry(ctx context.Context, retry effect.Retry, ectx *effect.Context) (effect.Result, error) {
	attempts := retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := retry.BaseDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delay<<(attempt-1)); err != nil {
				return effect.Result{}, err
			}
		}
		res, err := e.eval(ctx, retry.Inner, ectx)
		if err == nil {
			return res, nil
		}
		last = err
	}
	return effect.Result{}, &effect.RetriesExhaustedError{Attempts: attempts, Last: last}
}

// compensate runs the primary effect and, on failure, the fallback against
// the original context. A result recovered through the fallback carries the
// Compensated flag. When both fail, the error reports both causes.
func (e *Engine) compensate(ctx context.Context, comp effect.Compensate, ectx *effect.Context) (effect.Result, error) {
	res, err := e.eval(ctx, comp.Primary, ectx)
	if err == nil {
		return res, nil
	}
	fallback, ferr := e.eval(ctx, comp.Fallback, ectx)
	if ferr != nil {
		return effect.Result{}, &effect.CompensationError{Original: err, Compensation: ferr}
	}
	fallback.Compensated = true
	return fallback, nil
}

// timeoutEval bounds the inner effect with its own deadline. On expiry the
// inner execution is cancelled and the effect fails with ErrTimeoutExceeded.
func (e *Engine) timeoutEval(ctx context.Context, to effect.Timeout, ectx *effect.Context) (effect.Result, error) {
	if to.Duration <= 0 {
		return e.eval(ctx, to.Inner, ectx)
	}
	tctx, cancel := context.WithTimeout(ctx, to.Duration)
	defer cancel()

	type outcome struct {
		res effect.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.eval(tctx, to.Inner, ectx)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if errors.Is(o.err, context.DeadlineExceeded) {
			return effect.Result{}, effect.ErrTimeoutExceeded
		}
		return o.res, o.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return effect.Result{}, effect.ErrTimeoutExceeded
		}
		return effect.Result{}, ctxErr(ctx.Err())
	}
}

// breakerEval guards the inner effect with the circuit breaker registered
// under the descriptor's key. A rejected call fails fast without touching
// the inner effect; executed calls feed the breaker's failure window.
func (e *Engine) breakerEval(ctx context.Context, br effect.Breaker, ectx *effect.Context) (effect.Result, error) {
	b := e.breakers.get(br.Key)
	if !b.allow() {
		return effect.Result{}, &effect.ExecutionError{Cause: ErrCircuitOpen}
	}
	res, err := e.eval(ctx, br.Inner, ectx)
	b.record(err != nil)
	return res, err
}
