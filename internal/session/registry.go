package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/evex-dev/rakubot/internal/rakuten"
)

// ThreadOpener allocates a fresh backend thread for a new Session.
type ThreadOpener func(ctx context.Context) (*rakuten.Thread, error)

// Registry is the process-wide channel→Session map. It is the only shared
// mutable state of the conversation pipeline and must be passed explicitly to
// whatever dispatches inbound messages.
type Registry struct {
	logger *slog.Logger
	open   ThreadOpener
	seed   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry. systemContext, when non-empty, is
// seeded into every new Session for injection into its first turn.
func NewRegistry(log *slog.Logger, open ThreadOpener, systemContext string) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		logger:   log.With(slog.String("service", "session_registry")),
		open:     open,
		seed:     systemContext,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the channel's Session, creating it if absent. Creation
// is purely local; the backend thread is opened lazily by the Session's first
// turn, so this never blocks and is safe on the ordered dispatch path.
func (r *Registry) GetOrCreate(channelID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[channelID]; ok {
		return sess
	}
	sess := &Session{
		ChannelID: channelID,
		seed:      r.seed,
		open:      r.open,
	}
	r.sessions[channelID] = sess
	r.logger.Info("session created", slog.String("channel_id", channelID))
	return sess
}

// Clear removes the channel's Session. In-flight work on a removed Session is
// not cancelled; it finishes on its own and the stale handle accepts no new
// turns through the registry. Clearing an absent channel is a no-op.
func (r *Registry) Clear(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[channelID]; !ok {
		return false
	}
	delete(r.sessions, channelID)
	r.logger.Info("session cleared", slog.String("channel_id", channelID))
	return true
}

// Len reports the number of active Sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
