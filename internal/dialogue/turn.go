package dialogue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Originator says who produced a turn.
type Originator int

const (
	User Originator = iota
	Agent
	System
)

func (o Originator) String() string {
	switch o {
	case User:
		return "user"
	case Agent:
		return "agent"
	case System:
		return "system"
	default:
		return fmt.Sprintf("originator(%d)", int(o))
	}
}

// MarshalJSON encodes the originator as its name.
func (o Originator) MarshalJSON() ([]byte, error) { return json.Marshal(o.String()) }

// Kind separates plain turns from ones awaiting a yes/no answer.
type Kind int

const (
	Simple Kind = iota
	Confirmable
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Confirmable:
		return "confirm"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// Turn is one entry of the transcript. Only Resolved ever changes, once,
// from false to true.
type Turn struct {
	ID          string     `json:"id"`
	Originator  Originator `json:"originator"`
	Text        string     `json:"text"`
	Kind        Kind       `json:"kind"`
	ActionToken string     `json:"actionToken,omitempty"`
	Resolved    bool       `json:"resolved"`
	At          time.Time  `json:"at"`
}

// Actionable reports whether the yes/no affordance should be shown.
func (t Turn) Actionable() bool { return t.Kind == Confirmable && !t.Resolved }

// MarshalJSON adds the derived actionable flag.
func (t Turn) MarshalJSON() ([]byte, error) {
	type plain Turn
	return json.Marshal(struct {
		plain
		Actionable bool `json:"actionable"`
	}{plain(t), t.Actionable()})
}

// Mood is the robot face shown next to the status line.
type Mood int

const (
	Happy Mood = iota
	Listening
	Thinking
	Troubled
	Urgent
)

func (m Mood) String() string {
	switch m {
	case Happy:
		return "happy"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Troubled:
		return "error"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("mood(%d)", int(m))
	}
}

// MarshalJSON encodes the mood as its name.
func (m Mood) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }

// Status is the short status line plus mood.
type Status struct {
	Text string `json:"text"`
	Mood Mood   `json:"mood"`
}
