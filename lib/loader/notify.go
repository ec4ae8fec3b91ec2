package loader

import (
	"context"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/grid"
)

// sendNotifications fires the events of a loaded entry one after another:
// loaded pre and post, then (passivation only) activated pre and post.
// Every event waits for the completion of the previous one, the first
// failure stops the chain and fails the returned stage.
func (l *Loader) sendNotifications(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command, key string, value []byte, md grid.Metadata) *async.Stage[async.Void] {
	if l.notifier == nil {
		return nil
	}

	events := []func(pre bool) *async.Stage[async.Void]{
		func(pre bool) *async.Stage[async.Void] {
			return l.notifier.NotifyEntryLoaded(ctx, ictx, cmd, key, value, md, pre)
		},
	}
	if l.cfg.Passivation {
		events = append(events, func(pre bool) *async.Stage[async.Void] {
			return l.notifier.NotifyEntryActivated(ctx, ictx, cmd, key, value, md, pre)
		})
	}

	stage := async.Done()
	for _, fire := range events {
		fire := fire
		for _, pre := range []bool{true, false} {
			pre := pre
			stage = async.Compose(stage, func(async.Void) *async.Stage[async.Void] {
				return fire(pre)
			})
		}
	}
	return stage
}
