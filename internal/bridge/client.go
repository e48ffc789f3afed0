package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
)

// ClientConfig configures a bridge Client.
type ClientConfig struct {
	Logger       *slog.Logger
	BridgeURL    string
	Token        string
	PollInterval time.Duration
}

// Client is the local stdio side of bridge mode. It reads JSON-RPC lines
// from its input, forwards them to the remote bridge over HTTP, and merges
// polled notifications into its output so the caller sees a single stdio
// backend.
type Client struct {
	logger       *slog.Logger
	baseURL      string
	token        string
	pollInterval time.Duration
	http         *http.Client

	// outMu serializes output between the request path and the poller.
	outMu sync.Mutex
	out   io.Writer
}

// NewClient creates a Client targeting the given bridge.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		logger:       cfg.Logger,
		baseURL:      strings.TrimRight(cfg.BridgeURL, "/"),
		token:        cfg.Token,
		pollInterval: cfg.PollInterval,
		http:         &http.Client{Timeout: 20 * time.Second},
	}
}

// Run bridges stdin/stdout against the remote bridge until input ends or the
// context is cancelled. A failed startup health check is logged but not
// fatal: the bridge may come up later.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c.out = out
	c.checkHealth(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The input scan blocks in a read the context cannot interrupt;
	// cancellation closes the reader so processInput returns. The done
	// channel keeps a normal EOF from closing it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if closer, ok := in.(io.Closer); ok {
				_ = closer.Close()
			}
		case <-done:
		}
	}()

	go c.pollLoop(ctx)

	return c.processInput(ctx, in)
}

func (c *Client) checkHealth(ctx context.Context) {
	body, err := c.get(ctx, "/health", 5*time.Second)
	if err != nil {
		c.logger.Warn("bridge unreachable, continuing anyway",
			"url", c.baseURL,
			"error", err,
		)
		return
	}
	var health struct {
		Status       string `json:"status"`
		BackendAlive bool   `json:"backend_alive"`
	}
	if err := json.Unmarshal(body, &health); err != nil || health.Status != "ok" {
		c.logger.Warn("bridge health check failed", "body", string(body))
		return
	}
	c.logger.Info("connected to bridge",
		"url", c.baseURL,
		"backend_alive", health.BackendAlive,
	)
}

// processInput forwards stdin lines to the bridge and writes responses back.
func (c *Client) processInput(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}

		resp, err := c.post(ctx, "/rpc", line)
		if err != nil {
			c.logger.Error("forwarding to bridge", "error", err)
			if synth := c.unavailableResponse(line, err); synth != nil {
				if werr := c.writeLine(synth); werr != nil {
					return werr
				}
			}
			continue
		}

		// The bridge returns {} for forwarded notifications.
		if len(resp) == 0 || bytes.Equal(bytes.TrimSpace(resp), []byte("{}")) {
			continue
		}
		if err := c.writeLine(resp); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// pollLoop periodically drains the bridge's notification buffer into the
// output, backing off when the bridge keeps failing.
func (c *Client) pollLoop(ctx context.Context) {
	consecutive := 0
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		body, err := c.get(ctx, "/notifications", 5*time.Second)
		if err != nil {
			consecutive++
			if consecutive <= 3 {
				c.logger.Warn("polling notifications", "error", err)
			}
			if consecutive > 5 {
				backoff := min(time.Duration(consecutive)*c.pollInterval, 10*time.Second)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}
			continue
		}
		consecutive = 0

		var payload struct {
			Notifications []json.RawMessage `json:"notifications"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			c.logger.Warn("invalid notifications payload", "error", err)
			continue
		}
		for _, n := range payload.Notifications {
			if err := c.writeLine(n); err != nil {
				c.logger.Error("writing notification", "error", err)
				return
			}
		}
	}
}

// unavailableResponse synthesizes a backend-unavailable error for a request
// the bridge could not serve. Notifications get no response.
func (c *Client) unavailableResponse(line []byte, cause error) []byte {
	msg := jsonrpc.Classify(line)
	if msg.Kind != jsonrpc.KindRequest {
		return nil
	}
	resp := jsonrpc.NewUnavailableResponse(msg.Msg.ID, "bridge unreachable: "+cause.Error())
	data, err := jsonrpc.Marshal(resp)
	if err != nil {
		return nil
	}
	return data
}

func (c *Client) writeLine(line []byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := c.out.Write(line); err != nil {
		return err
	}
	_, err := c.out.Write([]byte("\n"))
	return err
}

func (c *Client) get(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
