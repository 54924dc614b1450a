package publish

// State is a step of a publish run.
type State int

const (
	Idle State = iota
	Authenticating
	ResolvingChannel
	Publishing
	Announcing
	Succeeded
	Failed
)

// Button labels shown while a run is in progress.
const (
	LabelAuthenticating = "Auth..."
	LabelResolving      = "Resolving..."
	LabelPublishing     = "Clipping..."
	LabelAnnouncing     = "Posting..."
	LabelSucceeded      = "Success!"
)

// Failure labels. Every failed run ends on exactly one of these.
const (
	LabelLoginNeeded   = "Login Needed"
	LabelNetworkError  = "Net Error"
	LabelNoChannel     = "No Channel"
	LabelForbidden     = "Forbidden"
	LabelNoClipAPI     = "No Clip API"
	LabelGenericError  = "Error"
	remoteLabelPattern = "API %d"
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case ResolvingChannel:
		return "resolving_channel"
	case Publishing:
		return "publishing"
	case Announcing:
		return "announcing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Label is the in-progress button text for s. Failed has no fixed label;
// use Classify for it.
func (s State) Label() string {
	switch s {
	case Authenticating:
		return LabelAuthenticating
	case ResolvingChannel:
		return LabelResolving
	case Publishing:
		return LabelPublishing
	case Announcing:
		return LabelAnnouncing
	case Succeeded:
		return LabelSucceeded
	default:
		return ""
	}
}
