package permissions

// Status mirrors the OS microphone authorization states
type Status int

const (
	StatusNotDetermined Status = iota
	StatusRestricted
	StatusDenied
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusNotDetermined:
		return "not-determined"
	case StatusRestricted:
		return "restricted"
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	}
	return "unknown"
}

// Granted reports whether capture may proceed
func (s Status) Granted() bool {
	return s == StatusAuthorized
}
