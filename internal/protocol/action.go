package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is one output line.
type Action struct {
	Op    string
	ID    int
	Times int
	Note  string
}

func Rest() Action { return Action{Op: OpRest} }
func Wait() Action { return Action{Op: OpWait} }

// Command is the action without its trailing note.
func (a Action) Command() string {
	switch a.Op {
	case OpCast:
		if a.Times > 1 {
			return fmt.Sprintf("%s %d %d", OpCast, a.ID, a.Times)
		}
		return fmt.Sprintf("%s %d", OpCast, a.ID)
	case OpLearn, OpBrew:
		return fmt.Sprintf("%s %d", a.Op, a.ID)
	case OpRest:
		return OpRest
	default:
		return OpWait
	}
}

func (a Action) String() string {
	if a.Note == "" {
		return a.Command()
	}
	return a.Command() + " " + a.Note
}

// ParseAction parses an output line. Text after the command is kept as the note.
func ParseAction(line string) (Action, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Action{}, fmt.Errorf("%w: empty action", ErrMalformed)
	}
	a := Action{Op: f[0]}
	rest := f[1:]
	num := func() (int, bool) {
		if len(rest) == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return 0, false
		}
		rest = rest[1:]
		return n, true
	}
	switch a.Op {
	case OpCast:
		id, ok := num()
		if !ok {
			return a, fmt.Errorf("%w: %q missing id", ErrMalformed, line)
		}
		a.ID = id
		if times, ok := num(); ok {
			a.Times = times
		}
	case OpLearn, OpBrew:
		id, ok := num()
		if !ok {
			return a, fmt.Errorf("%w: %q missing id", ErrMalformed, line)
		}
		a.ID = id
	case OpRest, OpWait:
	default:
		return a, fmt.Errorf("%w: unknown op %q", ErrMalformed, a.Op)
	}
	a.Note = strings.Join(rest, " ")
	return a, nil
}
