package status

import "time"

const DefaultStaleAfter = 30 * time.Second

type Connectivity int

const (
	Live Connectivity = iota
	SignalLost
)

func (c Connectivity) String() string {
	if c == SignalLost {
		return "signal-lost"
	}
	return "live"
}

func (c Connectivity) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Classifier is a fixed threshold on report age. There is no hysteresis: one
// late report flips a bus to signal-lost and one fresh report flips it back.
type Classifier struct {
	StaleAfter time.Duration
}

func NewClassifier(staleAfter time.Duration) Classifier {
	return Classifier{StaleAfter: staleAfter}
}

// Classify returns SignalLost once age reaches the threshold.
func (c Classifier) Classify(age time.Duration) Connectivity {
	if age >= c.StaleAfter {
		return SignalLost
	}
	return Live
}

// ClassifyReport classifies a report recorded at recordedAt. A report without
// a timestamp is never considered stale.
func (c Classifier) ClassifyReport(recordedAt, now time.Time) Connectivity {
	if recordedAt.IsZero() {
		return Live
	}
	return c.Classify(now.Sub(recordedAt))
}
