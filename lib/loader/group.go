package loader

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
)

// loadGroup drains every member of the command's group that is not yet in
// the context from the stores and wraps it into the context.
//
// This blocks the calling goroutine until the store publisher is exhausted:
// the group read needs all members before the pipeline continues. Only the
// group owner loads, and only without FlagSkipCacheLoad.
func (l *Loader) loadGroup(ctx context.Context, ictx *grid.InvocationContext, cmd *grid.Command) error {
	if !cmd.GroupOwner || cmd.HasAnyFlag(grid.FlagSkipCacheLoad) {
		return nil
	}

	filter := func(key string) bool {
		return l.cfg.GroupOf(key) == cmd.GroupName && ictx.LookupEntry(key) == nil
	}
	pub := l.persistence.PublishEntries(filter, false, persistence.AccessBoth)

	n := 0
	err := cursor.Drain(ctx, pub, func(e grid.InternalEntry) error {
		ictx.WrapExternalEntry(e)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("load group %s: %w", cmd.GroupName, err)
	}
	log.Debugf("Loaded %d entries of group %s into the context", n, cmd.GroupName)
	return nil
}
