package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opsmith-ai/opsmith/pkg/chat"
	"github.com/opsmith-ai/opsmith/pkg/logger"
)

// Frame names emitted by the push endpoint.
const (
	frameDelta = "delta"
	frameError = "error"
	frameDone  = "done"
)

// OpenRequest parameterizes one push connection.
type OpenRequest struct {
	ThreadID        string
	ProviderID      string
	Message         string
	IsHumanResponse bool
}

// Handle is an open push connection. Close is idempotent.
type Handle interface {
	Close()
}

// Opener abstracts connection opening for the submission pipeline.
type Opener interface {
	Open(ctx context.Context, req OpenRequest, handler Handler) (Handle, error)
}

// Client owns push connections to the assistant backend. At most one live
// connection exists per (provider, thread): opening a new one force-closes
// the prior connection for that conversation.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	active map[string]*Connection
}

// NewClient creates a push-stream client. The underlying HTTP client
// carries no timeout: a stream stays open until a terminal frame or an
// explicit Close.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		active:     make(map[string]*Connection),
	}
}

// Open starts a push connection for the request's conversation, closing any
// prior connection for the same conversation first. Frames are dispatched
// to the handler until a terminal frame arrives or the handle is closed.
func (c *Client) Open(ctx context.Context, req OpenRequest, handler Handler) (Handle, error) {
	if req.ThreadID == "" || req.ProviderID == "" {
		return nil, fmt.Errorf("thread and provider ids are required")
	}

	key := req.ProviderID + "/" + req.ThreadID
	c.mu.Lock()
	if prev, ok := c.active[key]; ok {
		c.mu.Unlock()
		prev.Close()
		c.mu.Lock()
	}
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)

	endpoint := fmt.Sprintf("%s/api/chat/stream?%s", c.baseURL, url.Values{
		"message":           {req.Message},
		"provider_id":       {req.ProviderID},
		"thread_id":         {req.ThreadID},
		"is_human_response": {strconv.FormatBool(req.IsHumanResponse)},
	}.Encode())

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, string(body))
	}

	conn := &Connection{
		id:     uuid.NewString(),
		key:    key,
		cancel: cancel,
		body:   resp.Body,
		client: c,
	}

	c.mu.Lock()
	c.active[key] = conn
	c.mu.Unlock()

	logger.Debug("stream %s opened (thread=%s)", conn.id, req.ThreadID)
	go c.readStream(conn, handler)

	return conn, nil
}

// Connection is one live push connection.
type Connection struct {
	id     string
	key    string
	cancel context.CancelFunc
	body   io.ReadCloser
	client *Client
	closed atomic.Bool
	once   sync.Once
}

// Close tears the connection down. Safe to call more than once; teardown
// runs exactly once.
func (conn *Connection) Close() {
	conn.once.Do(func() {
		conn.closed.Store(true)
		conn.cancel()
		conn.body.Close()
		conn.client.deregister(conn)
		logger.Debug("stream %s closed", conn.id)
	})
}

// Active returns the number of live connections.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Client) deregister(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[conn.key] == conn {
		delete(c.active, conn.key)
	}
}

// readStream parses named frames off the wire and dispatches them. The
// format is one `event:` line naming the frame, `data:` lines carrying the
// body, and a blank line terminating the frame.
func (c *Client) readStream(conn *Connection, handler Handler) {
	scanner := bufio.NewScanner(conn.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if terminal := c.dispatch(conn, event, data.String(), handler); terminal {
				return
			}
			event = ""
			data.Reset()
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// Other fields (comments, ids, retry hints) are ignored.
	}

	if err := scanner.Err(); err != nil && !conn.closed.Load() {
		logger.Error("stream %s read error: %v", conn.id, err)
		handler.OnError(genericError())
	}
	conn.Close()
}

// dispatch routes one complete frame. Returns true for terminal frames,
// which also tear the connection down.
func (c *Client) dispatch(conn *Connection, event, data string, handler Handler) bool {
	switch event {
	case frameDelta:
		var msg chat.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			// Malformed frames are dropped without surfacing; the chunk is
			// lost and the stream continues.
			logger.Warn("stream %s dropped malformed delta frame: %v", conn.id, err)
			return false
		}
		if msg.StreamKind == chat.StreamMessages {
			handler.OnDelta(msg)
		} else {
			handler.OnUpdate(msg)
		}
		return false

	case frameError:
		streamErr := &Error{}
		if data == "" || json.Unmarshal([]byte(data), streamErr) != nil || streamErr.Message == "" {
			streamErr = genericError()
		}
		handler.OnError(streamErr)
		conn.Close()
		return true

	case frameDone:
		handler.OnDone()
		conn.Close()
		return true
	}
	return false
}

var _ Opener = (*Client)(nil)
