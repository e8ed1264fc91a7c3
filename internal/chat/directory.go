// Package chat maintains the user's chat directory: one-to-one conversations
// resolved by recipient email, joined with counterpart profiles and ordered
// by recency.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/tchat/internal/auth"
	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/presence"
	"github.com/matheus3301/tchat/internal/realtime"
	"go.uber.org/zap"
)

var (
	// ErrRecipientNotFound means no account is registered under the email.
	ErrRecipientNotFound = errors.New("chat: recipient not found")
	// ErrSelfChat means the recipient is the signed-in user.
	ErrSelfChat = errors.New("chat: cannot open a chat with yourself")
	// ErrChatNotFound means the chat id is not in the directory.
	ErrChatNotFound = errors.New("chat: chat not found")
)

const chatsRoot = "chats"

// ChatPath returns the record path for a chat id.
func ChatPath(id string) string {
	return chatsRoot + "/" + id
}

// Summary is the denormalized last-message preview stored on the chat
// record so the directory can be ordered without reading message streams.
type Summary struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	SenderID  string `json:"senderId"`
}

// Record is the chat document at chats/{chatId}. Participants is a uid set;
// membership queries order by participants/{uid}.
type Record struct {
	ID           string          `json:"id"`
	CreatedAt    string          `json:"createdAt"`
	Participants map[string]bool `json:"participants"`
	LastMessage  *Summary        `json:"lastMessage,omitempty"`
}

// Counterpart is the other participant of a chat, joined from users/{uid}.
type Counterpart struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Online      bool
}

// View is a directory entry: the chat record joined with its counterpart.
type View struct {
	ID          string
	CreatedAt   string
	Counterpart Counterpart
	LastMessage *Summary
}

// Session exposes the signed-in identity.
type Session interface {
	Current() *auth.Identity
}

// Directory is the chat directory service. Safe for concurrent use.
type Directory struct {
	session Session
	rt      realtime.Store
	bus     *bus.Bus
	logger  *zap.Logger

	mu       sync.RWMutex
	chats    []*View
	byID     map[string]*View
	selected string
}

// NewDirectory creates an empty directory.
func NewDirectory(session Session, rt realtime.Store, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		session: session,
		rt:      rt,
		bus:     b,
		logger:  logger,
		byID:    make(map[string]*View),
	}
}

// Create opens a one-to-one chat with the account registered under email.
// When a chat with that user already exists it is selected and returned
// instead of creating a duplicate.
func (d *Directory) Create(ctx context.Context, email string) (*View, error) {
	ident := d.session.Current()
	if ident == nil {
		return nil, auth.ErrUnauthenticated
	}
	email = strings.TrimSpace(email)

	matches, err := d.rt.QueryByChild(ctx, "users", "email", email)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ErrRecipientNotFound
	}
	uids := sortedKeys(matches)
	if len(uids) > 1 {
		// Emails are unique by construction; a duplicate is stale data, not
		// a reason to fail the user.
		d.logger.Warn("multiple accounts share an email", zap.String("email", email), zap.Int("count", len(uids)))
	}
	uid := uids[0]
	if uid == ident.UID {
		return nil, ErrSelfChat
	}
	var profile auth.Profile
	if err := json.Unmarshal(matches[uid], &profile); err != nil {
		return nil, err
	}

	// Pair dedup: one chat per counterpart.
	d.mu.Lock()
	for _, v := range d.chats {
		if v.Counterpart.UID == uid {
			d.selected = v.ID
			existing := *v
			d.mu.Unlock()
			return &existing, nil
		}
	}
	d.mu.Unlock()

	// Reserve the id first so the record can carry it.
	id, err := d.rt.Push(ctx, chatsRoot, nil)
	if err != nil {
		return nil, err
	}
	rec := Record{
		ID:        id,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Participants: map[string]bool{
			ident.UID: true,
			uid:       true,
		},
	}
	if err := d.rt.Set(ctx, ChatPath(id), rec); err != nil {
		return nil, err
	}

	view := &View{
		ID:          id,
		CreatedAt:   rec.CreatedAt,
		Counterpart: counterpart(uid, profile, time.Now()),
	}

	d.mu.Lock()
	d.chats = append(d.chats, view)
	d.byID[id] = view
	d.selected = id
	d.sortLocked()
	out := *view
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: "chat.created", Timestamp: time.Now(), Payload: id})
	return &out, nil
}

// Load replaces the directory with the user's chats from the store: an
// indexed membership query, a profile join per counterpart, ordered by the
// last message time.
func (d *Directory) Load(ctx context.Context) error {
	ident := d.session.Current()
	if ident == nil {
		return auth.ErrUnauthenticated
	}

	matches, err := d.rt.QueryByChild(ctx, chatsRoot, "participants/"+ident.UID, true)
	if err != nil {
		return err
	}

	now := time.Now()
	views := make([]*View, 0, len(matches))
	byID := make(map[string]*View, len(matches))
	for _, id := range sortedKeys(matches) {
		var rec Record
		if err := json.Unmarshal(matches[id], &rec); err != nil {
			d.logger.Warn("skipping malformed chat record", zap.String("chat_id", id), zap.Error(err))
			continue
		}
		if rec.ID == "" {
			rec.ID = id
		}

		uid := counterpartUID(rec.Participants, ident.UID)
		var profile auth.Profile
		if uid != "" {
			if err := d.rt.Get(ctx, auth.UserPath(uid), &profile); err != nil {
				d.logger.Warn("counterpart profile read failed", zap.String("uid", uid), zap.Error(err))
			}
		}

		view := &View{
			ID:          rec.ID,
			CreatedAt:   rec.CreatedAt,
			Counterpart: counterpart(uid, profile, now),
			LastMessage: rec.LastMessage,
		}
		views = append(views, view)
		byID[rec.ID] = view
	}

	d.mu.Lock()
	d.chats = views
	d.byID = byID
	if _, ok := byID[d.selected]; !ok {
		d.selected = ""
	}
	d.sortLocked()
	count := len(views)
	d.mu.Unlock()

	d.logger.Info("chat directory loaded", zap.Int("chats", count))
	d.bus.Publish(bus.Event{Kind: "chat.loaded", Timestamp: time.Now(), Payload: count})
	return nil
}

// Select marks a chat as active. Unknown ids are a no-op and return nil.
func (d *Directory) Select(id string) *View {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.byID[id]
	if !ok {
		return nil
	}
	d.selected = id
	out := *v
	return &out
}

// Selected returns the active chat, or nil.
func (d *Directory) Selected() *View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.byID[d.selected]
	if !ok {
		return nil
	}
	out := *v
	return &out
}

// Chats returns the directory in display order.
func (d *Directory) Chats() []*View {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*View, len(d.chats))
	for i, v := range d.chats {
		c := *v
		out[i] = &c
	}
	return out
}

// UpdateLastMessage writes the last-message summary onto the chat record
// and mirrors it locally. Failures are logged; the message itself already
// landed, a stale preview is acceptable.
func (d *Directory) UpdateLastMessage(ctx context.Context, chatID string, s Summary) {
	if err := d.rt.Set(ctx, ChatPath(chatID)+"/lastMessage", s); err != nil {
		d.logger.Warn("lastMessage write failed", zap.String("chat_id", chatID), zap.Error(err))
		return
	}

	d.mu.Lock()
	if v, ok := d.byID[chatID]; ok {
		summary := s
		v.LastMessage = &summary
		d.sortLocked()
	}
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: "chat.updated", Timestamp: time.Now(), Payload: chatID})
}

// sortLocked orders chats by last activity, newest first. Chats without
// messages fall back to their creation time. Callers hold d.mu.
func (d *Directory) sortLocked() {
	sort.SliceStable(d.chats, func(i, j int) bool {
		return activityStamp(d.chats[i]) > activityStamp(d.chats[j])
	})
}

// activityStamp is comparable lexicographically because stamps are RFC 3339
// in UTC.
func activityStamp(v *View) string {
	if v.LastMessage != nil && v.LastMessage.Timestamp != "" {
		return v.LastMessage.Timestamp
	}
	return v.CreatedAt
}

func counterpart(uid string, profile auth.Profile, now time.Time) Counterpart {
	return Counterpart{
		UID:         uid,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		PhotoURL:    profile.PhotoURL,
		Online:      presence.Online(profile.LastActive, now),
	}
}

func counterpartUID(participants map[string]bool, self string) string {
	for uid, member := range participants {
		if member && uid != self {
			return uid
		}
	}
	return ""
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
