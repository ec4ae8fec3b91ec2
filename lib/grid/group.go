package grid

import "strings"

// GroupFunc returns the group of a key. An empty group means the key is
// not part of any group.
type GroupFunc func(key string) string

// GroupSeparator separates the group from the rest of a key ("user#42" is
// a member of the group "user").
const GroupSeparator = "#"

// KeyGroup is the default GroupFunc: the part of the key before the first
// GroupSeparator.
func KeyGroup(key string) string {
	group, _, found := strings.Cut(key, GroupSeparator)
	if !found {
		return ""
	}
	return group
}
