package store

import (
	"confsched/internal/live"
)

// Versions keeps one monotonically increasing counter per logical table.
// Counters are bumped after the writing transaction committed and while the
// writer lock is still held, so an observer that sees a new version always
// finds the matching data in the database.
type Versions struct {
	tables map[string]*live.Value[int64]
}

func newVersions() *Versions {
	v := &Versions{tables: make(map[string]*live.Value[int64])}
	for _, name := range append(append([]string{}, scheduleTables...), TableBookmarks) {
		v.tables[name] = live.NewValueOf[int64](0)
	}
	return v
}

// Table returns the counter of the named table, or nil for unknown tables.
func (v *Versions) Table(name string) *live.Value[int64] {
	return v.tables[name]
}

func (v *Versions) Events() *live.Value[int64]    { return v.tables[TableEvents] }
func (v *Versions) Days() *live.Value[int64]      { return v.tables[TableDays] }
func (v *Versions) Bookmarks() *live.Value[int64] { return v.tables[TableBookmarks] }

// Current returns the latest value of the named counter.
func (v *Versions) Current(name string) int64 {
	val := v.tables[name]
	if val == nil {
		return 0
	}
	n, _ := val.Get()
	return n
}

func (v *Versions) bump(names ...string) {
	for _, name := range names {
		if val := v.tables[name]; val != nil {
			val.Update(func(n int64) int64 { return n + 1 })
		}
	}
}
