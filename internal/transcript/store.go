package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAI   Speaker = "ai"
	SpeakerUser Speaker = "user"
)

// Turn is one utterance in the conversation, in arrival order. ID is unique
// per turn so remote mirroring can deduplicate retries. QuestionIndex is the
// interview question the utterance answered, fixed when the turn is recorded.
type Turn struct {
	ID            string    `json:"id"`
	Speaker       Speaker   `json:"speaker"`
	Text          string    `json:"text"`
	QuestionIndex int       `json:"questionIndex"`
	At            time.Time `json:"at"`
}

// MirrorFunc receives each appended turn for best-effort remote persistence.
// It runs on its own goroutine; failures must not propagate back here.
type MirrorFunc func(t Turn)

// Store is the local source of truth for the conversation transcript. Appends
// are ordered and synchronous; mirroring to remote storage is asynchronous
// and fire-and-forget, so a dead backend never blocks or loses local turns.
type Store struct {
	mirror MirrorFunc

	mu    sync.Mutex
	turns []Turn
}

// NewStore constructs an empty transcript. mirror may be nil.
func NewStore(mirror MirrorFunc) *Store {
	return &Store{mirror: mirror}
}

// Append records one utterance against the given question index. Empty or
// whitespace-only text is ignored. Returns the stored turn and whether it was
// appended.
func (s *Store) Append(speaker Speaker, text string, questionIndex int) (Turn, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, false
	}
	turn := Turn{ID: uuid.NewString(), Speaker: speaker, Text: text, QuestionIndex: questionIndex, At: time.Now()}

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()

	if s.mirror != nil {
		go s.mirror(turn)
	}
	return turn, true
}

// All returns a snapshot of the transcript in append order.
func (s *Store) All() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len reports the number of stored turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Clear discards all turns.
func (s *Store) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
}
