package dct

import (
	"slices"
	"time"
)

// defaultInFlightTimeout releases a command that never got a reply.
const defaultInFlightTimeout = 2 * time.Second

// CommandQueue serialises outbound commands.
//
// The device does not pipeline: each command must be answered before the
// next is sent, and replies carry no correlation id. The queue therefore
// hands out at most one command at a time and pairs the next reply with
// it by position. Identical commands are never pending twice.
//
// CommandQueue is not safe for concurrent use; the session guards it.
type CommandQueue struct {
	pending  []string
	inFlight string
	sentAt   time.Time
	busy     bool
	timeout  time.Duration
}

// NewCommandQueue creates a queue. A non-positive timeout uses the default.
func NewCommandQueue(inFlightTimeout time.Duration) *CommandQueue {
	if inFlightTimeout <= 0 {
		inFlightTimeout = defaultInFlightTimeout
	}
	return &CommandQueue{timeout: inFlightTimeout}
}

// Enqueue appends cmd unless an identical command is already pending.
// It reports whether cmd was added.
func (q *CommandQueue) Enqueue(cmd string) bool {
	if slices.Contains(q.pending, cmd) {
		return false
	}
	q.pending = append(q.pending, cmd)
	return true
}

// Next pops the head of the queue when no command is in flight.
//
// A command in flight for longer than the timeout is released first and
// returned as expired so the caller can log it.
func (q *CommandQueue) Next(now time.Time) (cmd string, expired string, ok bool) {
	if q.busy && now.Sub(q.sentAt) >= q.timeout {
		expired = q.inFlight
		q.release()
	}
	if q.busy || len(q.pending) == 0 {
		return "", expired, false
	}

	cmd = q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = cmd
	q.sentAt = now
	q.busy = true
	return cmd, expired, true
}

// Ack pairs a reply with the in-flight command and returns it. It returns
// "" when nothing was in flight.
func (q *CommandQueue) Ack() string {
	cmd := q.inFlight
	q.release()
	return cmd
}

// Timeout returns how long a command may stay in flight.
func (q *CommandQueue) Timeout() time.Duration {
	return q.timeout
}

// InFlight returns the command awaiting a reply.
func (q *CommandQueue) InFlight() (string, bool) {
	return q.inFlight, q.busy
}

// Pending returns a copy of the commands not yet sent.
func (q *CommandQueue) Pending() []string {
	return slices.Clone(q.pending)
}

// Len returns the number of commands not yet sent.
func (q *CommandQueue) Len() int {
	return len(q.pending)
}

// Reset drops every pending and in-flight command. It returns the number
// of pending commands dropped.
func (q *CommandQueue) Reset() int {
	n := len(q.pending)
	q.pending = nil
	q.release()
	return n
}

func (q *CommandQueue) release() {
	q.inFlight = ""
	q.sentAt = time.Time{}
	q.busy = false
}
