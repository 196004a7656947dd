// Package fanout defines the cross-server fan-out adapter: channels
// addressed as "doc:{document_id}" and a global "broadcast" channel,
// at-least-once, out-of-order-tolerant delivery of opaque byte
// payloads. The core's commutativity makes delivery order and
// duplication harmless to the caller.
package fanout

import "context"

// BroadcastChannel is the global channel name used for cluster-wide
// announcements that are not scoped to one document.
const BroadcastChannel = "broadcast"

// DocChannel returns the channel name for document id, using the
// "doc:{document_id}" addressing convention.
func DocChannel(id string) string {
	return "doc:" + id
}

// Handler processes one payload delivered on a subscribed channel.
type Handler func(payload []byte)

// Adapter is the publish/subscribe contract multi-server deployments
// use to propagate applied deltas to peer coordinators. Implementations
// need not provide ordering or exactly-once delivery — the core
// tolerates both.
type Adapter interface {
	// Publish delivers payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler for channel and returns a function
	// that cancels the subscription.
	Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error)
}
