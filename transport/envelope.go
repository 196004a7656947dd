// Package transport defines the wire contract between a client and a
// coordinator: authenticate, subscribe to a document (optionally with
// a known vector clock for catch-up), send deltas, and receive
// broadcast deltas. Concrete bindings (HTTP, WebSocket, whatever a
// host prefers) live in sibling packages and translate these
// envelopes to their transport's framing.
package transport

import (
	"encoding/json"

	"replidoc/delta"
	"replidoc/document"
	"replidoc/stamp"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindSubscribe   Kind = "subscribe"
	KindUnsubscribe Kind = "unsubscribe"
	KindDelta       Kind = "delta"
	KindPing        Kind = "ping"
	KindPong        Kind = "pong"
)

// Envelope is the outer frame every message on the wire carries, with
// Payload left to decode based on Kind.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload carries the bearer credential a connection presents
// before it may subscribe or send deltas.
type AuthPayload struct {
	Token string `json:"token"`
}

// SubscribePayload requests delivery of a document's changes.
// KnownClock, if present, lets the coordinator answer with only the
// fields the client has not yet observed instead of the full state.
type SubscribePayload struct {
	DocumentID document.ID                `json:"document_id"`
	KnownClock map[stamp.ReplicaID]uint64 `json:"known_clock,omitempty"`
}

// UnsubscribePayload ends delivery for a document.
type UnsubscribePayload struct {
	DocumentID document.ID `json:"document_id"`
}

// DeltaPayload carries a Delta in either direction: client-to-server
// as a proposed change, server-to-client as a broadcast or a
// subscribe-time catch-up snapshot.
type DeltaPayload struct {
	Delta delta.Delta `json:"delta"`
}

// ErrorPayload reports a rejected request. Code is a short machine-
// readable tag ("unauthorized", "invalid_transition", "bad_request");
// Detail is for humans only.
type ErrorPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Encode wraps a typed payload in an Envelope of the given Kind.
func Encode(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}
