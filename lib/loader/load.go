package loader

import (
	"context"
	"time"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/grid"
)

// LoadIfNeeded loads the key into the context unless ShouldSkip says
// otherwise. It returns nil if no load was started, else a stage that
// completes after the context entry was updated and every notification
// was delivered. A store or listener failure fails the stage.
//
// At most one load per key is issued in a context: concurrent or repeated
// calls for a key whose load was already started return nil.
func (l *Loader) LoadIfNeeded(ctx context.Context, ictx *grid.InvocationContext, key string, cmd *grid.Command) *async.Stage[async.Void] {
	if l.ShouldSkip(ictx, key, cmd) {
		return nil
	}
	if !ictx.MarkLoadIssued(key) {
		log.Debugf("Load of %s already issued by another caller", key)
		return nil
	}
	return l.loadInContext(ctx, ictx, key, cmd)
}

// loadAll loads every key and joins the loads. It returns nil if no key
// needed a load.
func (l *Loader) loadAll(ctx context.Context, ictx *grid.InvocationContext, keys []string, cmd *grid.Command) *async.Stage[async.Void] {
	var agg *async.Aggregate
	for _, key := range keys {
		stage := l.LoadIfNeeded(ctx, ictx, key, cmd)
		if stage == nil {
			continue
		}
		if agg == nil {
			agg = async.NewAggregate()
		}
		agg.DependsOn(stage)
	}
	if agg == nil {
		return nil
	}
	return agg.Freeze()
}

// segmentOf returns the segment of key. The segment of a command only
// applies to single-key commands.
func (l *Loader) segmentOf(key string, cmd *grid.Command) int {
	if cmd.Segment != grid.NoSegment && cmd.Type.Strategy() == grid.StrategySingleKey {
		return cmd.Segment
	}
	return l.container.Segment(key)
}

func (l *Loader) loadInContext(ctx context.Context, ictx *grid.InvocationContext, key string, cmd *grid.Command) *async.Stage[async.Void] {
	// an entry that reached the container in the meantime is no store outcome
	if ice, ok := l.container.Peek(key); ok {
		ictx.WrapExternalEntry(ice).SetLoaded(true)
		return nil
	}

	seg := l.segmentOf(key, cmd)
	start := time.Now()
	loadCtx := context.WithoutCancel(ctx)

	return async.Compose(l.persistence.Load(loadCtx, key, false), func(found *grid.InternalEntry) *async.Stage[async.Void] {
		took := time.Since(start)

		if found == nil {
			l.stats.recordMiss(took)
			if e := ictx.LookupEntry(key); e != nil {
				e.SetLoaded(false)
				e.SetSkipLookup(true)
			}
			log.Debugf("Key %s not found in any store", key)
			return nil
		}

		actual, stored := l.container.PutIfAbsent(seg, *found)
		ictx.WrapExternalEntry(actual).SetLoaded(true)
		if !stored {
			log.Debugf("Key %s was written concurrently, keeping the container value", key)
			return nil
		}

		l.stats.recordLoad(len(actual.Value), took)
		return l.sendNotifications(loadCtx, ictx, cmd, key, actual.Value, actual.Metadata)
	})
}
