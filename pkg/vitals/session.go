package vitals

const (
	sessionGapMs    = 1000
	sessionLengthMs = 5000
)

// Shift is a counted layout shift.
type Shift struct {
	StartTime float64
	Value     float64
}

// LayoutShiftSession accumulates layout shifts into session windows and keeps
// the largest session sum seen. It is not safe for concurrent use.
type LayoutShiftSession struct {
	sessionValue float64
	entries      []Shift
	max          float64
}

func NewLayoutShiftSession() *LayoutShiftSession {
	return &LayoutShiftSession{}
}

// Add folds s into the current session, starting a new one when s begins more
// than 1s after the previous shift or more than 5s after the session's first
// shift. It returns the running maximum.
func (l *LayoutShiftSession) Add(s Shift) float64 {
	if n := len(l.entries); n > 0 {
		first := l.entries[0]
		last := l.entries[n-1]
		if s.StartTime-last.StartTime > sessionGapMs || s.StartTime-first.StartTime > sessionLengthMs {
			l.entries = l.entries[:0]
			l.sessionValue = 0
		}
	}
	l.entries = append(l.entries, s)
	l.sessionValue += s.Value
	if l.sessionValue > l.max {
		l.max = l.sessionValue
	}
	return l.max
}

// SessionValue is the sum of the current session.
func (l *LayoutShiftSession) SessionValue() float64 { return l.sessionValue }

// Entries returns a copy of the shifts in the current session.
func (l *LayoutShiftSession) Entries() []Shift {
	out := make([]Shift, len(l.entries))
	copy(out, l.entries)
	return out
}

// Max is the reported CLS.
func (l *LayoutShiftSession) Max() float64 { return l.max }

func (l *LayoutShiftSession) Reset() {
	l.entries = l.entries[:0]
	l.sessionValue = 0
	l.max = 0
}
