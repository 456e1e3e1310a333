package bootstrap

import "encoding/json"

// State is the application lifecycle position.
type State int

const (
	Idle State = iota
	Booting
	Running
	Suspended
	Recovering
	Failed
)

var stateNames = map[State]string{
	Idle:       "IDLE",
	Booting:    "BOOTING",
	Running:    "RUNNING",
	Suspended:  "SUSPENDED",
	Recovering: "RECOVERING",
	Failed:     "FAILED",
}

var stateFromName = map[string]State{
	"IDLE":       Idle,
	"BOOTING":    Booting,
	"RUNNING":    Running,
	"SUSPENDED":  Suspended,
	"RECOVERING": Recovering,
	"FAILED":     Failed,
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

// transitions is the legal edge set. Recovery always lands back in RUNNING,
// or in SUSPENDED if the client was hidden again mid-recovery.
var transitions = map[State][]State{
	Idle:       {Booting},
	Booting:    {Running, Failed},
	Running:    {Suspended, Recovering},
	Suspended:  {Recovering},
	Recovering: {Running, Suspended},
	Failed:     {Booting},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
