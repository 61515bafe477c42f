package replicator

// State is the position of an Orchestrator in its run.
type State int

// Orchestrator states. Failed is absorbing.
const (
	Idle State = iota
	Connected
	Dumped
	Restored
	CleanedUp
	Notified
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:      "idle",
	Connected: "connected",
	Dumped:    "dumped",
	Restored:  "restored",
	CleanedUp: "cleaned_up",
	Notified:  "notified",
	Done:      "done",
	Failed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
