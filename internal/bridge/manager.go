package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
	"github.com/imsgguard/imsg-guard/internal/relay"
)

// subscribeLine is sent once at startup so the backend streams message
// events. The fixed id is registered at attach so the ack never collides
// with a client request.
const subscribeLine = `{"jsonrpc":"2.0","id":-1,"method":"watch.subscribe","params":{"attachments":false}}`

// ManagerConfig configures a bridge Manager.
type ManagerConfig struct {
	Logger     *slog.Logger
	Outbound   *filter.Chain
	Inbound    *filter.Chain
	BufferMax  int
	RPCTimeout time.Duration
}

// Manager owns the backend subprocess for bridge mode. It serializes RPC
// requests onto the backend's stdin, correlates responses by id, and parks
// filtered notifications in a bounded buffer for pollers.
type Manager struct {
	logger        *slog.Logger
	outboundChain *filter.Chain
	inboundChain  *filter.Chain
	buffer        *Buffer
	pending       *pendingTable
	rpcTimeout    time.Duration

	writeMu sync.Mutex
	stdin   io.Writer

	backend *relay.Backend
	alive   atomic.Bool
}

// NewManager creates a Manager. Call Start or Attach before Send.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		logger:        cfg.Logger,
		outboundChain: cfg.Outbound,
		inboundChain:  cfg.Inbound,
		buffer:        NewBuffer(cfg.BufferMax, cfg.Logger),
		pending:       newPendingTable(),
		rpcTimeout:    cfg.RPCTimeout,
	}
}

// Start launches the backend subprocess and begins reading its output.
func (m *Manager) Start(ctx context.Context, backendPath, dbPath string) error {
	backend, err := relay.StartBackend(backendPath, dbPath)
	if err != nil {
		return err
	}
	m.backend = backend
	m.logger.Info("backend started", "path", backendPath)

	m.Attach(ctx, backend.Stdin(), backend.Stdout())
	return nil
}

// Attach wires the manager to the backend's pipes and starts the reader.
// Split out from Start so tests can drive the manager over in-memory pipes.
func (m *Manager) Attach(ctx context.Context, stdin io.Writer, stdout io.Reader) {
	m.stdin = stdin
	m.alive.Store(true)
	go m.readLoop(ctx, stdout)

	// Register the fixed id before writing so the ack resolves here
	// instead of surfacing to pollers as a pseudo-notification.
	subID := json.RawMessage(`-1`)
	w := m.pending.register(subID)
	if err := m.writeBackend([]byte(subscribeLine)); err != nil {
		m.pending.remove(subID)
		m.logger.Error("subscribing to message events", "error", err)
		return
	}
	go func() {
		select {
		case <-w.done:
			m.logger.Info("subscribed to message events", "ack", string(w.resp))
		case <-time.After(m.rpcTimeout):
			m.pending.remove(subID)
			m.logger.Warn("no subscribe ack from backend")
		case <-ctx.Done():
			m.pending.remove(subID)
		}
	}()
}

// Stop terminates the backend subprocess.
func (m *Manager) Stop() {
	m.alive.Store(false)
	if m.backend != nil {
		if err := m.backend.Terminate(3 * time.Second); err != nil {
			m.logger.Warn("terminating backend", "error", err)
		}
	}
}

// Alive reports whether the backend is still attached and running.
func (m *Manager) Alive() bool {
	if !m.alive.Load() {
		return false
	}
	if m.backend != nil {
		return m.backend.Alive()
	}
	return true
}

// Notifications drains all buffered notifications.
func (m *Manager) Notifications() []json.RawMessage {
	return m.buffer.DrainAll()
}

// Send filters one raw JSON-RPC line, forwards it to the backend, and waits
// for the correlated response. Blocked lines never reach the backend: a
// blocked request returns a synthesized error response, a blocked
// notification returns nil. An allowed notification is forwarded and also
// returns nil.
func (m *Manager) Send(ctx context.Context, raw []byte) ([]byte, error) {
	fc := filter.NewContext(raw, api.DirectionOutbound)
	if err := m.outboundChain.Process(ctx, fc); err != nil {
		return nil, fmt.Errorf("outbound filter: %w", err)
	}

	// Unparsed pass-through is a stdio-relay affordance for pipe noise. On
	// the HTTP surface it would let a batch array smuggle requests past the
	// send policy, so anything but a single JSON-RPC object is refused.
	if fc.Msg == nil || fc.Msg.Kind == jsonrpc.KindUnparsed {
		m.logger.Warn("rejecting non-object rpc payload")
		return jsonrpc.Marshal(jsonrpc.NewBlockedResponse(nil, "payload must be a single JSON-RPC object"))
	}

	var id json.RawMessage
	if fc.Msg != nil && fc.Msg.Msg != nil {
		id = fc.Msg.Msg.ID
	}

	if fc.Halted {
		msg := "blocked by contact policy"
		if fc.Decision != nil && fc.Decision.Message != "" {
			msg = fc.Decision.Message
		}
		m.logger.Warn("request blocked",
			"method", fc.Method(),
			"reason", decisionReason(fc),
			"identity", decisionIdentity(fc),
		)
		if id == nil {
			return nil, nil
		}
		return jsonrpc.Marshal(jsonrpc.NewBlockedResponse(id, msg))
	}

	if !m.Alive() {
		if id == nil {
			return nil, nil
		}
		return jsonrpc.Marshal(jsonrpc.NewUnavailableResponse(id, "backend not running"))
	}

	if id == nil {
		if err := m.writeBackend(fc.Out()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	w := m.pending.register(id)
	if err := m.writeBackend(fc.Out()); err != nil {
		m.pending.remove(id)
		return nil, err
	}

	select {
	case <-w.done:
		return w.resp, nil
	case <-time.After(m.rpcTimeout):
		m.pending.remove(id)
		m.logger.Warn("backend response timeout", "method", fc.Method())
		return jsonrpc.Marshal(jsonrpc.NewUnavailableResponse(id, "backend response timeout"))
	case <-ctx.Done():
		m.pending.remove(id)
		return nil, ctx.Err()
	}
}

// readLoop consumes the backend's stdout: responses resolve their pending
// request, everything else goes through the inbound chain into the buffer.
func (m *Manager) readLoop(ctx context.Context, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		fc := filter.NewContext(line, api.DirectionInbound)
		if err := m.inboundChain.Process(ctx, fc); err != nil {
			m.logger.Error("inbound filter error", "error", err)
			continue
		}

		if fc.Halted {
			m.logger.Warn("inbound line dropped",
				"method", fc.Method(),
				"reason", decisionReason(fc),
				"identity", decisionIdentity(fc),
			)
			continue
		}

		out := make([]byte, len(fc.Out()))
		copy(out, fc.Out())

		if fc.Msg != nil && fc.Msg.Kind == jsonrpc.KindResponse {
			if m.pending.resolve(fc.Msg.Msg.ID, out) {
				continue
			}
			// Unmatched responses (late arrivals after a timeout)
			// surface through the notification stream.
		}
		m.buffer.Push(out)
	}

	if err := scanner.Err(); err != nil {
		m.logger.Error("reading backend output", "error", err)
	}
	m.alive.Store(false)
	m.logger.Warn("backend output closed")
}

func (m *Manager) writeBackend(line []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, err := m.stdin.Write(line); err != nil {
		return fmt.Errorf("writing to backend: %w", err)
	}
	if _, err := m.stdin.Write([]byte("\n")); err != nil {
		return fmt.Errorf("writing to backend: %w", err)
	}
	return nil
}

func decisionReason(fc *filter.Context) string {
	if fc.Decision == nil {
		return ""
	}
	return string(fc.Decision.Reason)
}

func decisionIdentity(fc *filter.Context) string {
	if fc.Decision == nil {
		return ""
	}
	return fc.Decision.Identity
}
