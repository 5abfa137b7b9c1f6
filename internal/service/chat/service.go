package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrUserRequired = errors.New("user is required")

// Conversation is the server-side transcript of one user, kept as "Speaker: text" lines.
type Conversation struct {
	ID        string
	User      string
	CreatedAt time.Time
	Lines     []string
}

// Service keeps a bounded conversation per user in memory.
type Service struct {
	limit int

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewService keeps at most limit lines per user.
func NewService(limit int) *Service {
	if limit < 2 {
		limit = 2
	}
	return &Service{
		limit:         limit,
		conversations: make(map[string]*Conversation),
	}
}

// Record appends one exchange and drops the oldest lines beyond the limit.
func (s *Service) Record(_ context.Context, user, message, reply string) error {
	if user == "" {
		return ErrUserRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[user]
	if !ok {
		conv = &Conversation{
			ID:        uuid.NewString(),
			User:      user,
			CreatedAt: time.Now().UTC(),
			Lines:     make([]string, 0, s.limit),
		}
		s.conversations[user] = conv
	}

	conv.Lines = append(conv.Lines, "User: "+message, "Assistant: "+reply)
	if over := len(conv.Lines) - s.limit; over > 0 {
		conv.Lines = append(conv.Lines[:0:0], conv.Lines[over:]...)
	}
	return nil
}

// History returns a copy of the user's lines, oldest first.
func (s *Service) History(_ context.Context, user string) ([]string, error) {
	if user == "" {
		return nil, ErrUserRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[user]
	if !ok {
		return []string{}, nil
	}
	copied := make([]string, len(conv.Lines))
	copy(copied, conv.Lines)
	return copied, nil
}

// Clear forgets the user's conversation.
func (s *Service) Clear(_ context.Context, user string) error {
	if user == "" {
		return ErrUserRequired
	}

	s.mu.Lock()
	delete(s.conversations, user)
	s.mu.Unlock()
	return nil
}
