// Package httpserver is a Gin-based reference binding of the
// transport envelopes to concrete HTTP routes: deltas are posted as
// JSON bodies, and broadcasts are streamed back over Server-Sent
// Events, one stream per subscribed connection.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"replidoc/coordinator"
	"replidoc/delta"
	"replidoc/document"
	"replidoc/stamp"
)

// Server binds a coordinator.Coordinator to HTTP routes.
type Server struct {
	coord *coordinator.Coordinator
}

// New creates a Server over coord.
func New(coord *coordinator.Coordinator) *Server {
	return &Server{coord: coord}
}

// Register mounts every route on r.
func (s *Server) Register(r *gin.Engine) {
	r.Use(Logger(), Recovery())

	r.GET("/health", s.health)

	docs := r.Group("/v1/documents")
	docs.GET("/:id/subscribe", s.subscribe)
	docs.POST("/:id/deltas", s.postDelta)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

// writeCoordError maps an error from the coordinator to an HTTP
// response. ErrWrongShard becomes a 421 Misdirected Request naming
// the shard the client should retry against, document.ErrPoisoned
// becomes a 409 Conflict, and everything else is a plain 500.
func writeCoordError(c *gin.Context, err error) {
	var wrongShard *coordinator.ErrWrongShard
	if errors.As(err, &wrongShard) {
		c.JSON(http.StatusMisdirectedRequest, gin.H{
			"error":         err.Error(),
			"shard_id":      wrongShard.Shard.ID,
			"shard_address": wrongShard.Shard.Address,
		})
		return
	}
	if errors.Is(err, document.ErrPoisoned) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// postDelta handles POST /v1/documents/:id/deltas — a client offering
// a locally-made change. The connection model here is one-shot: each
// request authenticates and applies independently, without a
// persistent subscribed session.
func (s *Server) postDelta(c *gin.Context) {
	id := document.ID(c.Param("id"))
	if !s.coord.Authorize(bearerToken(c), id) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var d delta.Delta
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d.DocumentID = id

	if err := s.coord.HandleIncomingDelta(c.Request.Context(), d, ""); err != nil {
		writeCoordError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// subscribe handles GET /v1/documents/:id/subscribe — authenticates,
// transitions Authenticated->Subscribed, sends a catch-up snapshot
// relative to an optional ?known_clock= query parameter, then streams
// broadcast deltas as SSE events until the client disconnects.
func (s *Server) subscribe(c *gin.Context) {
	id := document.ID(c.Param("id"))
	token := bearerToken(c)
	if !s.coord.Authorize(token, id) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn := coordinator.NewConnection(coordinator.ConnectionID(uuid.NewString()))
	if err := conn.Transition(coordinator.EventAuthOK, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := conn.Transition(coordinator.EventSubscribe, id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sub := newSSESubscriber(conn.ID(), coordinator.DefaultOutboxCapacity)
	defer func() {
		_ = conn.Transition(coordinator.EventDisconnect, "")
		s.coord.UnsubscribeAll(conn.ID())
		sub.close()
	}()

	if err := s.coord.Subscribe(c.Request.Context(), id, sub); err != nil {
		writeCoordError(c, err)
		return
	}

	knownClock := parseKnownClock(c.Query("known_clock"))
	snap, err := s.coord.SnapshotFor(c.Request.Context(), id, knownClock)
	if err != nil {
		slog.Warn("catch-up snapshot failed", "doc", id, "err", err)
	} else {
		sub.enqueue(snap)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case d, ok := <-sub.outbox:
			if !ok {
				return false
			}
			c.SSEvent("delta", d)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func parseKnownClock(raw string) map[stamp.ReplicaID]uint64 {
	if raw == "" {
		return nil
	}
	var m map[stamp.ReplicaID]uint64
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// sseSubscriber adapts coordinator.Subscriber to a bounded channel
// consumed by an SSE writer loop, dropping broadcasts when the outbox
// is full.
type sseSubscriber struct {
	id     coordinator.ConnectionID
	outbox chan delta.Delta
}

func newSSESubscriber(id coordinator.ConnectionID, capacity int) *sseSubscriber {
	return &sseSubscriber{id: id, outbox: make(chan delta.Delta, capacity)}
}

func (s *sseSubscriber) ID() coordinator.ConnectionID { return s.id }

func (s *sseSubscriber) Send(d delta.Delta) error {
	select {
	case s.outbox <- d:
		return nil
	default:
		return fmt.Errorf("httpserver: outbox full for connection %s", s.id)
	}
}

func (s *sseSubscriber) enqueue(d delta.Delta) {
	select {
	case s.outbox <- d:
	default:
	}
}

func (s *sseSubscriber) close() { close(s.outbox) }
