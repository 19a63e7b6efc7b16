// Package conversation holds the dialogue history shared by the performer
// client and the backend: role-tagged turns, the character's starting
// context, and the reply sanitiser that turns raw model output into a clean
// spoken line.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Role identifies who produced a [Turn].
type Role string

const (
	// RoleSystem seeds persona and scene context. System turns are never
	// removed from a [History].
	RoleSystem Role = "system"

	// RoleUser is the human performer or an audience member.
	RoleUser Role = "user"

	// RoleAssistant is the character.
	RoleAssistant Role = "assistant"
)

// CharacterName is the label that prefixes every assistant turn.
const CharacterName = "Robby"

// Speaker labels the performer console offers.
const (
	SpeakerWill     = "Will"
	SpeakerAudience = "Audience"
)

// ErrEmptyContent is returned when a turn without content is appended.
var ErrEmptyContent = errors.New("conversation: turn content is empty")

// ErrInvalidRole is returned for roles other than system, user and assistant.
var ErrInvalidRole = errors.New("conversation: invalid role")

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// UnmarshalText accepts the known roles plus "human" as an alias for
// [RoleUser].
func (r *Role) UnmarshalText(b []byte) error {
	v := Role(strings.ToLower(strings.TrimSpace(string(b))))
	if v == "human" {
		v = RoleUser
	}
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, string(b))
	}
	*r = v
	return nil
}

// Turn is one role-tagged utterance. Field order matches the wire format.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate checks that the turn has a known role and non-blank content.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, t.Role)
	}
	if strings.TrimSpace(t.Content) == "" {
		return fmt.Errorf("%w (role %s)", ErrEmptyContent, t.Role)
	}
	return nil
}

// UserLine formats what speaker said as user turn content, e.g. "Will: hi".
func UserLine(speaker, transcript string) string {
	return speaker + ": " + transcript
}

// AssistantLine formats a reply as assistant turn content, e.g. "Robby: hi".
func AssistantLine(reply string) string {
	return CharacterName + ": " + reply
}

// History is the ordered, append-only conversation log. It is safe for
// concurrent use; readers always receive a copy.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory creates a history seeded with the given turns.
func NewHistory(seed ...Turn) *History {
	return &History{turns: slices.Clone(seed)}
}

// Turns returns a copy of all turns in chronological order.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.turns)
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Append validates and appends turns atomically. Either all turns are
// appended or none are.
func (h *History) Append(turns ...Turn) error {
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
	return nil
}

// AppendExchange appends the user turn for what speaker said followed by the
// character's reply. A blank reply is replaced by [FallbackLine].
func (h *History) AppendExchange(speaker, transcript, reply string) (user, assistant Turn, err error) {
	if strings.TrimSpace(reply) == "" {
		reply = FallbackLine
	}
	user = Turn{Role: RoleUser, Content: UserLine(speaker, transcript)}
	assistant = Turn{Role: RoleAssistant, Content: AssistantLine(reply)}
	if err := h.Append(user, assistant); err != nil {
		return Turn{}, Turn{}, err
	}
	return user, assistant, nil
}

// MarshalJSON encodes the history as a JSON array of turns.
func (h *History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Turns())
}

// DecodeTurns parses a JSON array of turns and validates every entry.
func DecodeTurns(data []byte) ([]Turn, error) {
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("conversation: decode turns: %w", err)
	}
	var errs []error
	for i, t := range turns {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("turn %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return turns, nil
}
