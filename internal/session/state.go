package session

import "encoding/json"

// State is the session authority's lifecycle position.
type State int

const (
	Uninitialized State = iota
	Bootstrapping
	Ready
	Authenticated
	Degraded
	Expired
	Failed
)

var stateNames = map[State]string{
	Uninitialized: "UNINITIALIZED",
	Bootstrapping: "BOOTSTRAPPING",
	Ready:         "READY",
	Authenticated: "AUTHENTICATED",
	Degraded:      "DEGRADED",
	Expired:       "EXPIRED",
	Failed:        "FAILED",
}

var stateFromName = map[string]State{
	"UNINITIALIZED": Uninitialized,
	"BOOTSTRAPPING": Bootstrapping,
	"READY":         Ready,
	"AUTHENTICATED": Authenticated,
	"DEGRADED":      Degraded,
	"EXPIRED":       Expired,
	"FAILED":        Failed,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Writable reports whether mutations may be issued in this state.
func (s State) Writable() bool {
	return s == Ready || s == Authenticated
}

// transitions is the legal edge set. The machine is monotonic except for
// the explicit recovery edge (DEGRADED to READY) and the teardown edges.
var transitions = map[State][]State{
	Uninitialized: {Bootstrapping},
	Bootstrapping: {Ready, Authenticated, Failed, Expired, Uninitialized},
	Ready:         {Authenticated, Degraded, Expired, Uninitialized},
	Authenticated: {Degraded, Expired, Uninitialized, Ready},
	Degraded:      {Ready, Expired, Uninitialized},
	Expired:       {Bootstrapping, Uninitialized},
	Failed:        {Bootstrapping},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
