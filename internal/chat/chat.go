// Package chat defines the chat-transport capability set (§6) consumed by
// the pipeline: connect, an inbound message stream, reply, and reaction
// primitives. Implementations are tagged variants over this thin
// interface, not a class hierarchy, per §4.8's "pluggable providers
// without deep inheritance" requirement.
package chat

import "context"

// Message mirrors spec §4's ChatMessage: channel id, message id, optional
// thread id, user id/name, text, timestamp, opaque raw-event record.
type Message struct {
	ChannelID string
	MessageID string
	ThreadID  string
	UserID    string
	UserName  string
	Text      string
	Raw       any
}

// Provider is the capability set a chat transport must implement. Connect
// returns a restartable inbound channel; the provider owns reconnection,
// not the caller.
type Provider interface {
	Connect(ctx context.Context) (<-chan Message, error)
	Disconnect(ctx context.Context) error
	SendReply(ctx context.Context, channelID, text, threadID string) error
	AddReaction(ctx context.Context, channelID, messageID, name string) error
	RemoveReaction(ctx context.Context, channelID, messageID, name string) error
}
