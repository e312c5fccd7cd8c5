package reload

// Phase is the state of the reload transaction.
type Phase int

const (
	Idle Phase = iota
	Diffing
	Validating
	Staging
	Committing
	RollingBack
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Diffing:
		return "diffing"
	case Validating:
		return "validating"
	case Staging:
		return "staging"
	case Committing:
		return "committing"
	case RollingBack:
		return "rolling-back"
	}
	return "?"
}
