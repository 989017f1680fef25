package boundary

import "encoding/json"

// ProgramCount is a suppression-aware count. It serializes as a string so a
// suppressed value ("< 10") and an exact value ("12") share one wire shape
// and the exact number of a suppressed cell is never representable.
type ProgramCount struct {
	display    string
	exact      int
	suppressed bool
}

func (c ProgramCount) String() string { return c.display }

// Suppressed reports whether the sentinel replaced the exact count.
func (c ProgramCount) Suppressed() bool { return c.suppressed }

// Exact returns the underlying count and false when the value is suppressed.
// Internal consumers (the erasure data summary) use counts gathered under
// their own authority, not through this type.
func (c ProgramCount) Exact() (int, bool) {
	if c.suppressed {
		return 0, false
	}
	return c.exact, true
}

func (c ProgramCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.display)
}
