package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrQueueFull       = errors.New("insufficient queue space")
	ErrNoValidCommands = errors.New("no valid commands")
)

// Queue is a fixed-capacity FIFO ring buffer of commands. It is owned by the
// control loop and is not safe for concurrent use.
type Queue struct {
	buf   []Command
	head  int
	count int
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{buf: make([]Command, capacity)}
}

func (q *Queue) Len() int  { return q.count }
func (q *Queue) Cap() int  { return len(q.buf) }
func (q *Queue) Free() int { return len(q.buf) - q.count }

// Push appends a command, returning ErrQueueFull if there is no free slot.
func (q *Queue) Push(cmd Command) error {
	if q.count == len(q.buf) {
		return ErrQueueFull
	}
	q.put(cmd)
	return nil
}

// put writes into the next free slot; the caller has checked Free.
func (q *Queue) put(cmd Command) {
	q.buf[(q.head+q.count)%len(q.buf)] = cmd
	q.count++
}

// Pop removes the oldest command.
func (q *Queue) Pop() (Command, bool) {
	if q.count == 0 {
		return Command{}, false
	}
	cmd := q.buf[q.head]
	q.buf[q.head] = Command{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return cmd, true
}

// Clear discards every queued command.
func (q *Queue) Clear() {
	for q.count > 0 {
		q.Pop()
	}
	q.head = 0
}

// Rejection records a token that failed validation.
type Rejection struct {
	Token string
	Err   error
}

// Admission is the outcome of submitting one batch line.
type Admission struct {
	Queued    int
	Rejected  []Rejection
	Required  int
	Available int
	Err       error
}

func (a Admission) Accepted() bool { return a.Err == nil }

func (a Admission) String() string {
	var sb strings.Builder
	switch {
	case errors.Is(a.Err, ErrQueueFull):
		fmt.Fprintf(&sb, "rejected: insufficient queue space (required %d, available %d)", a.Required, a.Available)
	case a.Err != nil:
		fmt.Fprintf(&sb, "rejected: %v", a.Err)
	default:
		fmt.Fprintf(&sb, "accepted, %d command(s) queued", a.Queued)
	}
	for _, r := range a.Rejected {
		fmt.Fprintf(&sb, "; ignored %v", r.Err)
	}
	return sb.String()
}

// Admit parses a whitespace-separated batch and enqueues it atomically: either
// every valid command is queued in token order or nothing is.
func (p *Parser) Admit(q *Queue, line string) Admission {
	var (
		adm   Admission
		valid []Command
	)
	for _, token := range strings.Fields(line) {
		cmd, err := p.Parse(token)
		if err != nil {
			adm.Rejected = append(adm.Rejected, Rejection{Token: token, Err: err})
			continue
		}
		valid = append(valid, cmd)
	}

	adm.Required = len(valid)
	adm.Available = q.Free()
	if len(valid) == 0 {
		adm.Err = ErrNoValidCommands
		return adm
	}
	if adm.Required > adm.Available {
		adm.Err = fmt.Errorf("required %d, available %d: %w", adm.Required, adm.Available, ErrQueueFull)
		return adm
	}

	for _, cmd := range valid {
		q.put(cmd)
	}
	adm.Queued = len(valid)
	return adm
}
