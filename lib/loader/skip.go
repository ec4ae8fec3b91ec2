package loader

import "github.com/ValentinKolb/dGrid/lib/grid"

// ShouldSkip decides whether loading the key can be skipped for the command.
// It never touches a store and has no side effects.
func (l *Loader) ShouldSkip(ictx *grid.InvocationContext, key string, cmd *grid.Command) bool {
	e := ictx.LookupEntry(key)
	if e == nil {
		log.Debugf("Skip load for command %s. Entry is not in the context.", cmd)
		return true
	}
	if ictx.LoadIssued(key) {
		log.Debugf("Skip load for command %s. A load of %s was already issued.", cmd, key)
		return true
	}
	if !e.IsNull() {
		log.Debugf("Skip load for command %s. Entry %s has a non-null value.", cmd, e)
		return true
	}
	if e.SkipLookup() {
		log.Debugf("Skip load for command %s. Entry %s is set to skip lookup.", cmd, e)
		return true
	}
	if !cmd.HasAnyFlag(grid.FlagSkipOwnershipCheck) && !l.canLoad(key) {
		log.Debugf("Skip load for command %s. Cannot load the key.", cmd)
		return true
	}

	if cmd.IsWrite() {
		skip := cmd.LoadType == grid.LoadTypeDontLoad || cmd.HasAnyFlag(grid.FlagSkipCacheLoad)
		log.Debugf("Skip load for write command %s? %t", cmd, skip)
		return skip
	}
	skip := cmd.HasAnyFlag(grid.FlagSkipCacheLoad)
	log.Debugf("Skip load for command %s? %t", cmd, skip)
	return skip
}
