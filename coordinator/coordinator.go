// Package coordinator implements the server-side sync coordinator:
// per-document subscriber sets, delta application, persistence, and
// broadcast. It never holds a per-document lock across a suspension
// point — apply under the lock, release, then broadcast or persist.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replidoc/delta"
	"replidoc/document"
	"replidoc/fanout"
	"replidoc/persist"
	"replidoc/stamp"
)

// DefaultOutboxCapacity bounds each subscriber's pending-broadcast
// queue before the coordinator drops it.
const DefaultOutboxCapacity = 256

// Subscriber is anything a transport can hand the coordinator to
// receive broadcasts. Transports implement this over a WebSocket,
// an SSE stream, a long-poll queue, or a test channel.
type Subscriber interface {
	ID() ConnectionID
	// Send delivers d. It must not block past its own outbox; a
	// Subscriber that cannot keep up should return an error so the
	// coordinator can drop it — broadcast is best-effort.
	Send(d delta.Delta) error
}

// Authorizer decides whether a bearer token may subscribe to or send
// deltas for a document. Credential validation itself is an external
// collaborator; the coordinator only needs this hook.
type Authorizer func(token string, id document.ID) bool

// AllowAll is the default Authorizer used when none is configured —
// suitable for local demos and tests, never for production.
func AllowAll(string, document.ID) bool { return true }

type docEntry struct {
	doc *document.Document
	// region serializes the apply->persist->broadcast sequence for
	// this document, distinct from the Document's own internal field
	// mutex — a single writer per document processes a serialized
	// stream of events.
	region sync.Mutex
}

// Coordinator owns every live document and its subscriber set.
type Coordinator struct {
	replica stamp.ReplicaID
	store   persist.Adapter
	fan     fanout.Adapter
	authz   Authorizer
	outbox  int

	membership *Membership
	shardID    string

	mu          sync.RWMutex
	documents   map[document.ID]*docEntry
	subscribers map[document.ID]map[ConnectionID]Subscriber

	fanoutUnsub map[document.ID]func()
}

// ErrWrongShard is returned by GetOrCreate when a Membership is
// configured (WithMembership) and id hashes to a shard other than
// this Coordinator's own. Callers should redirect to Shard.Address
// rather than retry locally.
type ErrWrongShard struct {
	Shard Shard
}

func (e *ErrWrongShard) Error() string {
	return fmt.Sprintf("coordinator: document belongs to shard %s (%s), not this node", e.Shard.ID, e.Shard.Address)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAuthorizer overrides the default AllowAll authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Coordinator) { c.authz = a }
}

// WithOutboxCapacity records n in place of DefaultOutboxCapacity. The
// Coordinator does not size subscriber queues itself, and
// transport/httpserver sizes each SSE outbox with
// DefaultOutboxCapacity, so n does not change that binding's queues.
func WithOutboxCapacity(n int) Option {
	return func(c *Coordinator) { c.outbox = n }
}

// WithMembership restricts this Coordinator to serving only the
// documents that m's consistent-hash ring assigns to shardID — every
// other document is rejected from GetOrCreate with ErrWrongShard. A
// Coordinator with no Membership configured serves every document
// locally, as in a single-node deployment.
func WithMembership(m *Membership, shardID string) Option {
	return func(c *Coordinator) {
		c.membership = m
		c.shardID = shardID
	}
}

// New creates a Coordinator that mints local stamps as replica, backed
// by store for persistence and fan for cross-server delta exchange.
func New(replica stamp.ReplicaID, store persist.Adapter, fan fanout.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		replica:     replica,
		store:       store,
		fan:         fan,
		authz:       AllowAll,
		outbox:      DefaultOutboxCapacity,
		documents:   make(map[document.ID]*docEntry),
		subscribers: make(map[document.ID]map[ConnectionID]Subscriber),
		fanoutUnsub: make(map[document.ID]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize reports whether token may act on id.
func (c *Coordinator) Authorize(token string, id document.ID) bool {
	return c.authz(token, id)
}

// GetOrCreate returns the live Document for id, loading it from
// persistence on first access or creating it fresh if none exists — a
// document is created on first write or first observed delta. If a
// Membership is configured and id belongs to a different shard, it
// returns ErrWrongShard without touching persistence.
func (c *Coordinator) GetOrCreate(ctx context.Context, id document.ID) (*document.Document, error) {
	if c.membership != nil {
		if shard, ok := c.membership.ShardFor(id); ok && shard.ID != c.shardID {
			return nil, &ErrWrongShard{Shard: *shard}
		}
	}

	c.mu.RLock()
	if e, ok := c.documents[id]; ok {
		c.mu.RUnlock()
		return e.doc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.documents[id]; ok {
		return e.doc, nil
	}

	doc, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}

	doc.Watch(func(p document.Path) { c.onLocalWrite(ctx, doc, p) })
	c.documents[id] = &docEntry{doc: doc}
	c.subscribeFanout(id)
	return doc, nil
}

func (c *Coordinator) load(ctx context.Context, id document.ID) (*document.Document, error) {
	snap, err := c.store.Get(ctx, id)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		return document.New(id, c.replica), nil
	case err != nil:
		return nil, fmt.Errorf("coordinator: load %s: %w", id, err)
	default:
		return document.FromSnapshot(snap, c.replica), nil
	}
}

// onLocalWrite builds a single-field delta for a local Set/Delete and
// fans it out to subscribers and, if configured, to peer coordinators.
// This is how local writes reach broadcast without Document depending
// on Coordinator.
func (c *Coordinator) onLocalWrite(ctx context.Context, doc *document.Document, path document.Path) {
	r, ok := doc.FieldAt(path)
	if !ok {
		return
	}
	d := delta.Delta{
		DocumentID: doc.ID(),
		Changes: []delta.Change{{
			Path:      path,
			Value:     r.Value,
			Tombstone: r.Tombstone,
			Stamp:     r.Stamp,
			Origin:    r.Origin,
		}},
	}

	if err := c.persist(ctx, doc); err != nil {
		slog.Warn("persist after local write failed", "doc", doc.ID(), "err", err)
	}
	c.broadcast(d, "")
	c.publishFanout(ctx, d)
}

// Subscribe registers conn as a subscriber of id, creating the
// document lazily from persistence if needed.
func (c *Coordinator) Subscribe(ctx context.Context, id document.ID, conn Subscriber) error {
	if _, err := c.GetOrCreate(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribers[id] == nil {
		c.subscribers[id] = make(map[ConnectionID]Subscriber)
	}
	c.subscribers[id][conn.ID()] = conn
	return nil
}

// UnsubscribeAll removes connID from every document's subscriber set,
// as happens on disconnect.
func (c *Coordinator) UnsubscribeAll(connID ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subs := range c.subscribers {
		delete(subs, connID)
	}
}

// HandleIncomingDelta applies a delta received from a connection,
// persists the result, and broadcasts it to every other subscriber of
// the document — plus, if a fan-out adapter is configured, to peer
// coordinators. fromConn is excluded from the local broadcast so the
// sender does not echo its own write back to itself.
func (c *Coordinator) HandleIncomingDelta(ctx context.Context, d delta.Delta, fromConn ConnectionID) error {
	doc, err := c.GetOrCreate(ctx, d.DocumentID)
	if err != nil {
		return err
	}

	e := c.entry(d.DocumentID)
	e.region.Lock()
	err = delta.Apply(d, doc)
	e.region.Unlock()
	if err != nil {
		return fmt.Errorf("coordinator: apply delta for %s: %w", d.DocumentID, err)
	}

	if err := c.persist(ctx, doc); err != nil {
		slog.Warn("persist after incoming delta failed", "doc", d.DocumentID, "err", err)
	}

	c.broadcast(d, fromConn)
	c.publishFanout(ctx, d)
	return nil
}

// applyRemoteDelta is the fan-out counterpart of HandleIncomingDelta:
// a delta arriving from a peer coordinator over the fanout.Adapter is
// applied and re-broadcast to this coordinator's own local
// subscribers only — it is never re-published to the fan-out channel,
// which would otherwise echo forever between servers. A delta that
// carries no change newer than the document already holds (such as
// this coordinator's own publication delivered back to it) is applied
// but neither persisted nor re-broadcast, so a sender never receives
// its own write back through the fan-out channel.
func (c *Coordinator) applyRemoteDelta(ctx context.Context, d delta.Delta) {
	doc, err := c.GetOrCreate(ctx, d.DocumentID)
	if err != nil {
		slog.Warn("fanout delta for unknown document", "doc", d.DocumentID, "err", err)
		return
	}

	e := c.entry(d.DocumentID)
	e.region.Lock()
	fresh := false
	for _, ch := range d.Changes {
		if r, ok := doc.FieldAt(ch.Path); !ok || r.Stamp.Less(ch.Stamp) {
			fresh = true
		}
	}
	err = delta.Apply(d, doc)
	e.region.Unlock()
	if err != nil {
		slog.Warn("apply fanout delta failed", "doc", d.DocumentID, "err", err)
		return
	}
	if !fresh {
		return
	}

	if err := c.persist(ctx, doc); err != nil {
		slog.Warn("persist after fanout delta failed", "doc", d.DocumentID, "err", err)
	}
	c.broadcast(d, "")
}

// SnapshotFor computes the catch-up delta for a reconnecting client
// whose last known vector clock is knownClock: every field whose
// stamp's clock coordinate exceeds knownClock[stamp.replica].
func (c *Coordinator) SnapshotFor(ctx context.Context, id document.ID, knownClock map[stamp.ReplicaID]uint64) (delta.Delta, error) {
	doc, err := c.GetOrCreate(ctx, id)
	if err != nil {
		return delta.Delta{}, err
	}

	d := delta.Delta{DocumentID: id}
	for path, r := range doc.Fields() {
		if r.Stamp.Clock <= knownClock[r.Stamp.Replica] {
			continue
		}
		d.Changes = append(d.Changes, delta.Change{
			Path:      path,
			Value:     r.Value,
			Tombstone: r.Tombstone,
			Stamp:     r.Stamp,
			Origin:    r.Origin,
		})
	}
	return d, nil
}

func (c *Coordinator) entry(id document.ID) *docEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.documents[id]
}

// persist flushes doc's current snapshot and vector clock to the
// persistence adapter, retrying a failed attempt after 100ms, 200ms
// and 400ms before returning the last error. Called outside any
// document region lock.
func (c *Coordinator) persist(ctx context.Context, doc *document.Document) error {
	snap := doc.Snapshot()
	backoff := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	for attempt := 0; ; attempt++ {
		err := c.store.Put(ctx, doc.ID(), snap)
		if err == nil {
			err = c.store.VectorClockMerge(ctx, doc.ID(), snap.Clock)
		}
		if err == nil || attempt == len(backoff) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff[attempt]):
		}
	}
}

// broadcast sends d to every subscriber of d.DocumentID except
// excludeConn. A subscriber whose Send fails is dropped — it is
// expected to reconnect and catch up via SnapshotFor.
func (c *Coordinator) broadcast(d delta.Delta, excludeConn ConnectionID) {
	c.mu.RLock()
	subs := make([]Subscriber, 0, len(c.subscribers[d.DocumentID]))
	for id, s := range c.subscribers[d.DocumentID] {
		if id == excludeConn {
			continue
		}
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		if err := s.Send(d); err != nil {
			slog.Warn("broadcast failed, dropping subscriber", "conn", s.ID(), "doc", d.DocumentID, "err", err)
			c.dropSubscriber(d.DocumentID, s.ID())
		}
	}
}

func (c *Coordinator) dropSubscriber(id document.ID, conn ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers[id], conn)
}

func (c *Coordinator) publishFanout(ctx context.Context, d delta.Delta) {
	if c.fan == nil {
		return
	}
	payload, err := json.Marshal(d)
	if err != nil {
		slog.Warn("marshal delta for fanout failed", "doc", d.DocumentID, "err", err)
		return
	}
	if err := c.fan.Publish(ctx, fanout.DocChannel(string(d.DocumentID)), payload); err != nil {
		slog.Warn("publish to fanout failed", "doc", d.DocumentID, "err", err)
	}
}

// subscribeFanout subscribes to id's fan-out channel. The caller
// (GetOrCreate) must hold c.mu.
func (c *Coordinator) subscribeFanout(id document.ID) {
	if c.fan == nil {
		return
	}
	ctx := context.Background()
	unsub, err := c.fan.Subscribe(ctx, fanout.DocChannel(string(id)), func(payload []byte) {
		var d delta.Delta
		if err := json.Unmarshal(payload, &d); err != nil {
			slog.Warn("malformed fanout payload", "doc", id, "err", err)
			return
		}
		c.applyRemoteDelta(ctx, d)
	})
	if err != nil {
		slog.Warn("subscribe to fanout channel failed", "doc", id, "err", err)
		return
	}

	c.fanoutUnsub[id] = unsub
}
