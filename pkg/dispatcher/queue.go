package dispatcher

import "sync"

// Command is one inbound line tagged with its channel.
type Command struct {
	Source string // "socket", "fifo", "telegram", "pushover"
	Text   string
}

// CommandQueue is the unbounded thread-safe queue feeding the dispatch
// loop. Ingestion goroutines push; only the loop pops. Ordering per source
// is FIFO.
type CommandQueue struct {
	mu    sync.Mutex
	items []Command
}

// Push appends a command.
func (q *CommandQueue) Push(c Command) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest command, or ok=false when empty.
func (q *CommandQueue) TryPop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}

// Len reports the queued command count.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
