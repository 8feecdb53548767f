package escalator

// Decision is the channel chosen for an escalation.
type Decision int

const (
	// Quiet drops the escalation.
	Quiet Decision = iota
	Popup
	Email
)

func (d Decision) String() string {
	switch d {
	case Popup:
		return "popup"
	case Email:
		return "email"
	default:
		return "quiet"
	}
}

// Policy is the time-of-day routing table. Hours are local wall-clock hours;
// ranges are half-open.
type Policy struct {
	AllowFromHour    int // start of [AllowFromHour, AllowUntilHour)
	AllowUntilHour   int
	DaytimeUntilHour int // popup in [AllowFromHour, DaytimeUntilHour), email after
}

// DefaultPolicy allows 09:00-24:00 with popups until 18:00.
func DefaultPolicy() Policy {
	return Policy{AllowFromHour: 9, AllowUntilHour: 24, DaytimeUntilHour: 18}
}

// Decide maps an hour (0-23) to a channel.
func Decide(hour int, p Policy) Decision {
	if hour < p.AllowFromHour || hour >= p.AllowUntilHour {
		return Quiet
	}
	if hour < p.DaytimeUntilHour {
		return Popup
	}
	return Email
}
