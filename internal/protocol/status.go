package protocol

// Status is the result of an effect request.
type Status int

const (
	StatusSuccess Status = 0
	StatusRetry   Status = 1
	StatusFailure Status = 2
	// StatusNotReady is returned before login, or when an effect cannot
	// currently run at all (as opposed to Retry, which is transient).
	StatusNotReady Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusRetry:
		return "Retry"
	case StatusFailure:
		return "Failure"
	case StatusNotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}
