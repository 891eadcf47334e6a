package endpoint

type Status int

const (
	StatusUnknown   Status = iota // No probe has completed yet
	StatusHealthy                 // Last probe succeeded
	StatusUnhealthy               // Failure threshold reached
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusHealthy:
		return "HEALTHY"
	case StatusUnhealthy:
		return "UNHEALTHY"
	default:
		return "INVALID"
	}
}

// MarshalText renders the status by name in JSON snapshots.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// rank orders statuses for candidate selection: healthy first, unhealthy last.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnknown:
		return 1
	default:
		return 2
	}
}
