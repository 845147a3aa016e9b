// Package conversation holds the append-only transcript of a session.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/dyslu/internal/llm"
	"github.com/loqalabs/dyslu/internal/tts"
)

var (
	ErrNoRecord         = errors.New("no record at index")
	ErrOutOfOrder       = errors.New("assistant record must follow a user record")
	ErrAlreadyRevealing = errors.New("another record is revealing")
	ErrRevealRegressed  = errors.New("reveal cannot move backwards")
)

type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

func (r Role) String() string {
	if r == RoleAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}

type RevealState int

const (
	NotStarted RevealState = iota
	Revealing
	Complete
)

func (s RevealState) String() string {
	switch s {
	case Revealing:
		return "revealing"
	case Complete:
		return "complete"
	default:
		return "not_started"
	}
}

// Record is one turn of the conversation. Only Reveal and Revealed change
// after it has been appended.
type Record struct {
	ID        string
	Role      Role
	Text      string
	Audio     *tts.Audio
	Reveal    RevealState
	Revealed  int
	CreatedAt time.Time
}

// Runes is the number of characters a full reveal shows.
func (r Record) Runes() int { return utf8.RuneCountInString(r.Text) }

// Display is the text currently visible for the record.
func (r Record) Display() string {
	if r.Role == RoleUser {
		return r.Text
	}
	if r.Revealed <= 0 {
		return ""
	}
	i := 0
	for pos := range r.Text {
		if i == r.Revealed {
			return r.Text[:pos]
		}
		i++
	}
	return r.Text
}

// Active reports whether the typing indicator should be shown.
func (r Record) Active() bool { return r.Reveal == Revealing }

type EventKind string

const (
	EventAppend EventKind = "append"
	EventReveal EventKind = "reveal"
)

// Event describes a change to the log.
type Event struct {
	Kind   EventKind
	Index  int
	Record Record
}

type Observer func(Event)

// Log is the ordered transcript. Writers are the pipeline and the playback
// clocks; readers are the front ends.
type Log struct {
	notify    sync.Mutex
	mu        sync.RWMutex
	records   []Record
	observers []Observer
	now       func() time.Time
}

func New() *Log {
	return &Log{now: time.Now}
}

// Observe registers fn for every subsequent change, delivered in order.
// Observers may read the log but must not write to it.
func (l *Log) Observe(fn Observer) {
	l.notify.Lock()
	defer l.notify.Unlock()
	l.observers = append(l.observers, fn)
}

// Append adds a record and returns its index. User records are complete on
// arrival.
func (l *Log) Append(rec Record) (int, error) {
	l.notify.Lock()
	defer l.notify.Unlock()

	l.mu.Lock()
	if rec.Role == RoleAssistant {
		if len(l.records) == 0 || l.records[len(l.records)-1].Role != RoleUser {
			l.mu.Unlock()
			return -1, ErrOutOfOrder
		}
	}
	if rec.Role == RoleUser {
		rec.Reveal = Complete
		rec.Revealed = rec.Runes()
	}
	if rec.Reveal == Revealing && l.revealingLocked() >= 0 {
		l.mu.Unlock()
		return -1, ErrAlreadyRevealing
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	if rec.Revealed > rec.Runes() {
		rec.Revealed = rec.Runes()
	}
	l.records = append(l.records, rec)
	index := len(l.records) - 1
	l.mu.Unlock()

	l.emit(Event{Kind: EventAppend, Index: index, Record: rec})
	return index, nil
}

// UpdateReveal changes only the reveal fields of the record at index.
// revealed is clamped to the record length and may never decrease, and a
// Complete record stays Complete.
func (l *Log) UpdateReveal(index int, state RevealState, revealed int) error {
	l.notify.Lock()
	defer l.notify.Unlock()

	l.mu.Lock()
	if index < 0 || index >= len(l.records) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoRecord, index)
	}
	rec := l.records[index]
	if revealed > rec.Runes() {
		revealed = rec.Runes()
	}
	if revealed < rec.Revealed || state < rec.Reveal {
		l.mu.Unlock()
		return fmt.Errorf("%w: record %d", ErrRevealRegressed, index)
	}
	if state == Revealing {
		if other := l.revealingLocked(); other >= 0 && other != index {
			l.mu.Unlock()
			return fmt.Errorf("%w: record %d", ErrAlreadyRevealing, other)
		}
	}
	if rec.Reveal == state && rec.Revealed == revealed {
		l.mu.Unlock()
		return nil
	}
	rec.Reveal = state
	rec.Revealed = revealed
	l.records[index] = rec
	l.mu.Unlock()

	l.emit(Event{Kind: EventReveal, Index: index, Record: rec})
	return nil
}

// Get returns a copy of the record at index.
func (l *Log) Get(index int) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.records) {
		return Record{}, false
	}
	return l.records[index], true
}

// All returns a snapshot for rendering.
func (l *Log) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Messages returns the exchange as completion history, full text per turn.
func (l *Log) Messages() []llm.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]llm.Message, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, llm.Message{Role: r.Role.String(), Content: r.Text})
	}
	return out
}

func (l *Log) revealingLocked() int {
	for i, r := range l.records {
		if r.Reveal == Revealing {
			return i
		}
	}
	return -1
}

func (l *Log) emit(ev Event) {
	for _, fn := range l.observers {
		fn(ev)
	}
}
