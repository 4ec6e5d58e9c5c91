package server

// dedupFilter remembers the last accepted text of each user in one room.
// It is guarded by the owning room entry's lock.
type dedupFilter struct {
	last map[int64]string
}

func newDedupFilter() *dedupFilter {
	return &dedupFilter{last: make(map[int64]string)}
}

// isDuplicate reports whether text repeats userID's previous accepted text.
// text is expected to be trimmed already.
func (d *dedupFilter) isDuplicate(userID int64, text string) bool {
	prev, ok := d.last[userID]
	return ok && prev == text
}

func (d *dedupFilter) remember(userID int64, text string) {
	d.last[userID] = text
}

func (d *dedupFilter) forget(userID int64) {
	delete(d.last, userID)
}

func (d *dedupFilter) len() int {
	return len(d.last)
}
