package models

// Action is an inline control offered to operators on a request notification.
type Action struct {
	Label  string
	Target RequestStatus
}

var (
	ActionTake     = Action{Label: "🛠️ Take in progress", Target: StatusInProgress}
	ActionComplete = Action{Label: "✅ Mark completed", Target: StatusCompleted}
)

// ActionsFor returns the controls that remain available for a request in
// the given status. The set only shrinks as the request moves forward.
func ActionsFor(status RequestStatus) []Action {
	switch status {
	case StatusNew:
		return []Action{ActionTake, ActionComplete}
	case StatusInProgress:
		return []Action{ActionComplete}
	default:
		return nil
	}
}
