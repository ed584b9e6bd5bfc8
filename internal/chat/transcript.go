package chat

import (
	"slices"
	"sync"
	"time"

	"github.com/kalambet/kbchat/internal/llm"
)

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// State of a transcript, derived from its last message.
type State int

const (
	Idle State = iota
	AwaitingAnswer
)

func (s State) String() string {
	if s == AwaitingAnswer {
		return "awaiting_answer"
	}
	return "idle"
}

// Transcript is the append-only, ordered message list of one session.
type Transcript struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewTranscript seeds a transcript with the assistant greeting.
func NewTranscript(greeting string) *Transcript {
	return &Transcript{msgs: []Message{{
		Role:      llm.RoleAssistant,
		Content:   greeting,
		CreatedAt: time.Now().UTC(),
	}}}
}

func (t *Transcript) append(role, content string) Message {
	m := Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
	t.mu.Lock()
	t.msgs = append(t.msgs, m)
	t.mu.Unlock()
	return m
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.msgs)
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// State is AwaitingAnswer when the last message is from the user.
func (t *Transcript) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n := len(t.msgs); n > 0 && t.msgs[n-1].Role == llm.RoleUser {
		return AwaitingAnswer
	}
	return Idle
}
