package async

import "sync"

// Aggregate joins many stages into one.
//
// Usage:
//
//	agg := async.NewAggregate()
//	for _, key := range keys {
//		agg.DependsOn(load(key)) // nil stages are ignored
//	}
//	stage := agg.Freeze()
//
// The frozen stage completes after every constituent completed. Every
// outcome is observed and the first failure (in completion order) fails the
// aggregate. Constituents added after Freeze are ignored.
//
// Thread-safety: DependsOn and Freeze are safe for concurrent use with the
// completion of constituents.
type Aggregate struct {
	mu       sync.Mutex
	pending  int
	frozen   bool
	firstErr error
	result   *Stage[Void]
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{result: NewStage[Void]()}
}

// DependsOn adds a constituent. A nil completion is ignored.
func (a *Aggregate) DependsOn(c Completion) {
	if c == nil {
		return
	}
	a.mu.Lock()
	if a.frozen {
		a.mu.Unlock()
		return
	}
	a.pending++
	a.mu.Unlock()

	c.OnDone(a.onConstituentDone)
}

func (a *Aggregate) onConstituentDone(err error) {
	a.mu.Lock()
	if err != nil && a.firstErr == nil {
		a.firstErr = err
	}
	a.pending--
	fire := a.frozen && a.pending == 0
	firstErr := a.firstErr
	a.mu.Unlock()

	if fire {
		a.finish(firstErr)
	}
}

// Freeze seals the aggregate and returns the joined stage.
func (a *Aggregate) Freeze() *Stage[Void] {
	a.mu.Lock()
	if a.frozen {
		a.mu.Unlock()
		return a.result
	}
	a.frozen = true
	fire := a.pending == 0
	firstErr := a.firstErr
	a.mu.Unlock()

	if fire {
		a.finish(firstErr)
	}
	return a.result
}

func (a *Aggregate) finish(err error) {
	if err != nil {
		_ = a.result.Fail(err)
		return
	}
	_ = a.result.Complete(Void{})
}

// AllOf joins the given stages (nil entries are ignored).
func AllOf(stages ...Completion) *Stage[Void] {
	agg := NewAggregate()
	for _, s := range stages {
		agg.DependsOn(s)
	}
	return agg.Freeze()
}
