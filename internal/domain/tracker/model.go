package tracker

import (
	"fmt"
	"time"
)

// State is the reduction progress of one (run, slice key) artifact.
type State string

const (
	StateRaw        State = "raw"
	StateChopped    State = "chopped"
	StateFocused    State = "focused"
	StateNormalized State = "normalized"
	StateWritten    State = "written"
)

var stateRank = map[State]int{
	StateRaw:        0,
	StateChopped:    1,
	StateFocused:    2,
	StateNormalized: 3,
	StateWritten:    4,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Key identifies a tracker. SliceKey is empty for an unsliced reduction.
type Key struct {
	RunNumber int    `json:"run_number"`
	SliceKey  string `json:"slice_key"`
}

func (k Key) String() string {
	if k.SliceKey == "" {
		return fmt.Sprintf("run %d", k.RunNumber)
	}
	return fmt.Sprintf("run %d/%s", k.RunNumber, k.SliceKey)
}

// Artifact is one produced output.
type Artifact struct {
	Target    string    `json:"target"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Tracker records how far a reduction got and what it produced.
type Tracker struct {
	ID         string     `json:"id"`
	RunNumber  int        `json:"run_number"`
	SliceKey   string     `json:"slice_key"`
	State      State      `json:"state"`
	Reduced    bool       `json:"is_reduced"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	Message    string     `json:"message,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	Version    int64      `json:"version"`
}

// Key returns the tracker key.
func (t *Tracker) Key() Key { return Key{RunNumber: t.RunNumber, SliceKey: t.SliceKey} }

// Artifact returns the path recorded for target.
func (t *Tracker) Artifact(target string) (string, bool) {
	for _, a := range t.Artifacts {
		if a.Target == target {
			return a.Path, true
		}
	}
	return "", false
}

// Event is one entry of a tracker's append-only history.
type Event struct {
	ID        int64     `json:"id"`
	TrackerID string    `json:"tracker_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
