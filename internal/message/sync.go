package message

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/tchat/internal/auth"
	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/chat"
	"github.com/matheus3301/tchat/internal/realtime"
	"go.uber.org/zap"
)

// Sync is the message synchronizer. It owns the subscription registry —
// at most one live listener per chat — and a per-chat cache that changes
// only through listener snapshots, never through local writes.
type Sync struct {
	session chat.Session
	rt      realtime.Store
	dir     *chat.Directory
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.Mutex
	listeners map[string]func()
	cache     map[string][]Message
}

// NewSync creates a synchronizer with an empty registry.
func NewSync(session chat.Session, rt realtime.Store, dir *chat.Directory, b *bus.Bus, logger *zap.Logger) *Sync {
	return &Sync{
		session:   session,
		rt:        rt,
		dir:       dir,
		bus:       b,
		logger:    logger,
		listeners: make(map[string]func()),
		cache:     make(map[string][]Message),
	}
}

// Subscribe attaches a listener to a chat's message stream. It is a no-op
// when signed out or when the chat is already subscribed.
func (s *Sync) Subscribe(ctx context.Context, chatID string) error {
	if s.session.Current() == nil {
		return nil
	}

	s.mu.Lock()
	if _, ok := s.listeners[chatID]; ok {
		s.mu.Unlock()
		return nil
	}
	// Reserve the slot before attaching; the initial snapshot may arrive
	// synchronously and needs the lock.
	s.listeners[chatID] = nil
	s.mu.Unlock()

	cancel, err := s.rt.Listen(ctx, MessagesPath(chatID), func(raw json.RawMessage) {
		s.apply(chatID, raw)
	})
	if err != nil {
		s.mu.Lock()
		delete(s.listeners, chatID)
		s.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", chatID, err)
	}

	s.mu.Lock()
	if _, ok := s.listeners[chatID]; !ok {
		// Unsubscribed while attaching; tear the listener back down.
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.listeners[chatID] = cancel
	s.mu.Unlock()

	s.logger.Debug("subscribed", zap.String("chat_id", chatID))
	return nil
}

// Unsubscribe detaches a chat's listener. Safe when not subscribed.
func (s *Sync) Unsubscribe(chatID string) {
	s.mu.Lock()
	cancel, ok := s.listeners[chatID]
	delete(s.listeners, chatID)
	delete(s.cache, chatID)
	s.mu.Unlock()
	if ok && cancel != nil {
		cancel()
	}
}

// Reset detaches every listener and drops all cached messages. Called on
// logout.
func (s *Sync) Reset() {
	s.mu.Lock()
	cancels := make([]func(), 0, len(s.listeners))
	for _, cancel := range s.listeners {
		if cancel != nil {
			cancels = append(cancels, cancel)
		}
	}
	s.listeners = make(map[string]func())
	s.cache = make(map[string][]Message)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.logger.Info("message sync reset", zap.Int("listeners", len(cancels)))
}

// Subscribed reports whether a chat has a live listener.
func (s *Sync) Subscribed(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[chatID]
	return ok
}

// Messages returns the cached messages of a chat in timestamp order.
func (s *Sync) Messages(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached := s.cache[chatID]
	out := make([]Message, len(cached))
	copy(out, cached)
	return out
}

// Send writes a message to a chat's stream. The local cache is untouched;
// the message lands there when the listener snapshot comes back. After the
// write the chat's last-message summary is refreshed best-effort.
func (s *Sync) Send(ctx context.Context, chatID, content string) (*Message, error) {
	ident := s.session.Current()
	if ident == nil {
		return nil, auth.ErrUnauthenticated
	}

	msg := Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    ident.UID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    StatusSent,
	}
	key, err := s.rt.Push(ctx, MessagesPath(chatID), msg)
	if err != nil {
		return nil, err
	}
	msg.Key = key

	s.bus.Publish(bus.Event{Kind: "message.sent", Timestamp: time.Now(), Payload: chatID})
	s.dir.UpdateLastMessage(ctx, chatID, chat.Summary{
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		SenderID:  msg.Sender,
	})
	return &msg, nil
}

// UpdateStatus advances a message's delivery status. Downgrades are a
// no-op; the stream keeps only forward progress.
func (s *Sync) UpdateStatus(ctx context.Context, chatID, key string, status Status) error {
	if rank(status) == 0 {
		return fmt.Errorf("message: unknown status %q", status)
	}

	var current Message
	if err := s.rt.Get(ctx, messagePath(chatID, key), &current); err != nil {
		return err
	}
	if rank(status) <= rank(current.Status) {
		return nil
	}
	if err := s.rt.Set(ctx, messagePath(chatID, key)+"/status", status); err != nil {
		s.logger.Warn("status write failed",
			zap.String("chat_id", chatID), zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// apply replaces a chat's cache with a full stream snapshot.
func (s *Sync) apply(chatID string, raw json.RawMessage) {
	var records map[string]Message
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &records); err != nil {
			s.logger.Warn("malformed message snapshot", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
	}

	msgs := make([]Message, 0, len(records))
	for key, msg := range records {
		msg.Key = key
		msgs = append(msgs, msg)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].Key < msgs[j].Key
	})

	s.mu.Lock()
	if _, ok := s.listeners[chatID]; !ok {
		// Snapshot raced an unsubscribe; drop it.
		s.mu.Unlock()
		return
	}
	s.cache[chatID] = msgs
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: "message.snapshot", Timestamp: time.Now(), Payload: chatID})
}
