package alarm

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Kind is the type of an alarm command.
type Kind int

const (
	// Add schedules alarms for newly bookmarked events.
	Add Kind = iota
	// Remove cancels the alarms of unbookmarked events.
	Remove
	// Update recomputes every alarm from the current bookmarks.
	Update
	// Disable cancels every alarm.
	Disable
)

func (k Kind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Update:
		return "update"
	case Disable:
		return "disable"
	default:
		return "unknown"
	}
}

// Command is one unit of alarm work.
type Command struct {
	ID       uuid.UUID
	Kind     Kind
	Alarms   []model.AlarmInfo
	EventIDs []int64
}

func newCommand(kind Kind) Command {
	return Command{ID: uuid.New(), Kind: kind}
}

const queueDepth = 32

// Queue executes commands one at a time in submission order. The worker
// lives on the context given to NewQueue, so a command outlives the request
// that submitted it.
type Queue struct {
	ctx  context.Context
	cmds chan Command
	exec func(context.Context, Command) error
	done atomic.Int64
}

func NewQueue(ctx context.Context, exec func(context.Context, Command) error) *Queue {
	q := &Queue{
		ctx:  ctx,
		cmds: make(chan Command, queueDepth),
		exec: exec,
	}
	go q.loop()
	return q
}

// Submit enqueues cmd. It blocks while the queue is full and reports false
// once the queue has shut down.
func (q *Queue) Submit(cmd Command) bool {
	select {
	case q.cmds <- cmd:
		return true
	case <-q.ctx.Done():
		appLog.Info("alarm queue closed, dropping command", "id", cmd.ID.String(), "kind", cmd.Kind.String())
		return false
	}
}

// Processed returns how many commands finished, successfully or not.
func (q *Queue) Processed() int64 {
	return q.done.Load()
}

func (q *Queue) loop() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case cmd := <-q.cmds:
			if err := q.exec(q.ctx, cmd); err != nil {
				appLog.Error("alarm command failed", err, "id", cmd.ID.String(), "kind", cmd.Kind.String())
			}
			q.done.Add(1)
		}
	}
}
