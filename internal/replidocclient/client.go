// Package replidocclient is a Go SDK for talking to one replidoc
// coordinator over HTTP: hide the HTTP/JSON plumbing behind
// SendDelta/Subscribe calls, talk to exactly one node, and leave all
// sync logic to the server.
package replidocclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"replidoc/delta"
	"replidoc/document"
	"replidoc/stamp"
)

// Client talks to a single replidoc coordinator, identified by
// baseURL, authenticating every request with token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	clock      *localClock
}

// New creates a Client. timeout of 0 defaults to 10s — network calls
// never go out without a timeout. statePath names a JSON file used to
// persist the Lamport clock coordinate this client hands out via
// NextStamp across process restarts; pass "" to keep the clock
// in-memory only (it then restarts at zero every run).
func New(baseURL, token string, timeout time.Duration, statePath string) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		clock:      newLocalClock(statePath),
	}
}

// NextStamp mints the next Lamport stamp this client should attach to
// a local write as replica. It never reads the wall clock: two calls
// a second apart and two calls a microsecond apart both produce
// strictly increasing, never-repeating clocks, so a document never
// sees two different values under an identical stamp from this
// client.
func (c *Client) NextStamp(replica stamp.ReplicaID) (stamp.Stamp, error) {
	clock, err := c.clock.next(replica)
	if err != nil {
		return stamp.Stamp{}, fmt.Errorf("replidocclient: mint stamp: %w", err)
	}
	return stamp.Stamp{Clock: clock, Replica: replica}, nil
}

// APIError carries the HTTP status and message the server returned.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("replidocclient: HTTP %d: %s", e.Status, e.Message)
}

// SendDelta posts d to the document it names.
func (c *Client) SendDelta(ctx context.Context, d delta.Delta) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/documents/%s/deltas", c.baseURL, d.DocumentID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replidocclient: send delta: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Subscribe opens a long-lived SSE stream for id, invoking onDelta for
// every delta the server pushes (the catch-up snapshot first, then
// live broadcasts) until ctx is cancelled or the stream ends. It
// blocks for the lifetime of the subscription.
func (c *Client) Subscribe(ctx context.Context, id document.ID, onDelta func(delta.Delta)) error {
	url := fmt.Sprintf("%s/v1/documents/%s/subscribe", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replidocclient: subscribe: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	return scanSSE(resp.Body, onDelta)
}

// scanSSE parses Gin's "event: <name>\ndata: <payload>\n\n" framing
// and decodes every "delta" event's payload as a delta.Delta.
func scanSSE(r io.Reader, onDelta func(delta.Delta)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if event == "delta" && data != "" {
				var d delta.Delta
				if err := json.Unmarshal([]byte(data), &d); err == nil {
					onDelta(d)
				}
			}
			event, data = "", ""
		}
	}
	return scanner.Err()
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
