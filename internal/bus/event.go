package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds currently in use:
//
//	session.status_changed  auth state machine transition
//	auth.signed_in          identity became available
//	auth.signed_out         identity cleared (logout or expired session)
//	chat.created            a new chat record was created
//	chat.loaded             the chat directory was (re)loaded
//	chat.updated            a chat's last-message summary changed
//	message.snapshot        a chat's message list was replaced from the store
//	message.sent            an outbound message was written
//	presence.heartbeat      lastActive was refreshed
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
