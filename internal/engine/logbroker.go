package engine

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the live-line buffer of each subscriber. Lines are
	// dropped for a subscriber that falls this far behind.
	subscriberBufferSize = 64

	// backlogSize is how many recent lines a running task keeps for
	// subscribers that attach mid-run.
	backlogSize = 256

	// finishedRetention is how long a finished task's marker is kept so that a
	// subscriber racing the finish gets a closed channel rather than waiting on
	// a topic nobody will publish to.
	finishedRetention = time.Minute
)

// LogBroker fans out log lines emitted by running work units to subscribers,
// keyed by task id. It is safe for concurrent use.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
	now    func() time.Time
}

type logTopic struct {
	subs       map[int]chan string
	nextID     int
	backlog    []string
	finishedAt time.Time
}

func (t *logTopic) finished() bool { return !t.finishedAt.IsZero() }

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
		now:    time.Now,
	}
}

func (b *LogBroker) topic(taskID string) *logTopic {
	t, ok := b.topics[taskID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[taskID] = t
	}
	return t
}

// Open starts tracking a task. Lines published for a task that was never
// opened, or that finished and was forgotten, are dropped.
func (b *LogBroker) Open(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topic(taskID)
}

// Subscribe returns a channel that first replays the task's recent lines and
// then receives new ones, plus an unsubscribe function. The channel is closed
// when the task finishes; for a task that already finished or is unknown it is
// closed at once.
func (b *LogBroker) Subscribe(taskID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.finished() {
		ch := make(chan string)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan string, len(t.backlog)+subscriberBufferSize)
	for _, l := range t.backlog {
		ch <- l
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish records a line in the task's backlog and sends it to current
// subscribers. A subscriber whose buffer is full misses the line; the work
// unit never blocks on a slow reader.
func (b *LogBroker) Publish(taskID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok || t.finished() {
		return
	}

	if len(t.backlog) == backlogSize {
		copy(t.backlog, t.backlog[1:])
		t.backlog = t.backlog[:backlogSize-1]
	}
	t.backlog = append(t.backlog, line)

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the task finished and closes every subscriber channel. It also
// forgets tasks that finished more than finishedRetention ago.
func (b *LogBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	t := b.topic(taskID)
	t.finishedAt = now
	t.backlog = nil
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	for id, other := range b.topics {
		if other.finished() && now.Sub(other.finishedAt) > finishedRetention {
			delete(b.topics, id)
		}
	}
}

// topicCount returns the number of tracked tasks.
func (b *LogBroker) topicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
