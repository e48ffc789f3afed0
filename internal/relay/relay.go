package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
)

// State tracks the relay lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateDraining: client input is finished, inbound lines still flow.
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Relay bridges a line-oriented client to the backend through the filter
// chains. Blocked requests are answered with a synthesized error response,
// blocked notifications are dropped silently.
type Relay struct {
	logger        *slog.Logger
	outboundChain *filter.Chain
	inboundChain  *filter.Chain

	state atomic.Int32

	// writeMu serializes writes to the client so a synthesized error
	// response never interleaves with an inbound line.
	writeMu sync.Mutex
}

// New creates a relay with the given filter chains.
func New(logger *slog.Logger, outbound, inbound *filter.Chain) *Relay {
	return &Relay{
		logger:        logger,
		outboundChain: outbound,
		inboundChain:  inbound,
	}
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// Run bridges client and backend until the client input ends, the backend
// output ends, or the context is cancelled. Client EOF closes backendIn so
// the backend can exit, then the inbound side drains.
func (r *Relay) Run(ctx context.Context, clientIn io.Reader, clientOut io.Writer, backendIn io.WriteCloser, backendOut io.Reader) error {
	r.state.Store(int32(StateRunning))
	defer r.state.Store(int32(StateClosed))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var backendInOnce sync.Once
	closeBackendIn := func() { backendInOnce.Do(func() { _ = backendIn.Close() }) }

	// Both scan loops block in reads the context cannot interrupt, so
	// cancellation closes the endpoints to force them to return. The done
	// channel keeps a normal EOF shutdown from closing the client reader.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeBackendIn()
			closeIfCloser(backendOut)
			closeIfCloser(clientIn)
		case <-done:
		}
	}()

	errCh := make(chan error, 1)

	go func() {
		err := r.pipeOutbound(ctx, clientIn, clientOut, backendIn)
		r.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
		// Closing the backend stdin lets it finish; the inbound pipe
		// drains whatever is still in flight.
		closeBackendIn()
		if err != nil {
			errCh <- err
		}
	}()

	inErr := r.pipeInbound(ctx, backendOut, clientOut)

	select {
	case err := <-errCh:
		return err
	default:
	}
	return inErr
}

// pipeOutbound reads client lines, filters them, and forwards survivors to
// the backend.
func (r *Relay) pipeOutbound(ctx context.Context, src io.Reader, clientOut io.Writer, dst io.Writer) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB max message

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		fc := filter.NewContext(line, api.DirectionOutbound)
		if err := r.outboundChain.Process(ctx, fc); err != nil {
			r.logger.Error("outbound filter error", "error", err)
			// A request the chain failed on still needs an answer, or the
			// client waits on it forever.
			if id := requestID(fc); id != nil {
				resp := jsonrpc.NewUnavailableResponse(id, "internal filter error")
				if werr := r.writeClient(clientOut, resp); werr != nil {
					return fmt.Errorf("writing filter error response: %w", werr)
				}
			}
			continue
		}

		if fc.Halted {
			r.logBlocked(fc)
			if id := requestID(fc); id != nil {
				resp := jsonrpc.NewBlockedResponse(id, blockMessage(fc))
				if err := r.writeClient(clientOut, resp); err != nil {
					return fmt.Errorf("writing blocked response: %w", err)
				}
			}
			continue
		}

		if err := writeLine(dst, fc.Out()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("writing to backend: %w", err)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// pipeInbound reads backend lines, filters them, and forwards survivors to
// the client. Blocked inbound lines are dropped.
func (r *Relay) pipeInbound(ctx context.Context, src io.Reader, dst io.Writer) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		fc := filter.NewContext(line, api.DirectionInbound)
		if err := r.inboundChain.Process(ctx, fc); err != nil {
			r.logger.Error("inbound filter error", "error", err)
			continue
		}

		if fc.Halted {
			r.logBlocked(fc)
			continue
		}

		r.writeMu.Lock()
		err := writeLine(dst, fc.Out())
		r.writeMu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("writing to client: %w", err)
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (r *Relay) logBlocked(fc *filter.Context) {
	reason, identity := "", ""
	if fc.Decision != nil {
		reason = string(fc.Decision.Reason)
		identity = fc.Decision.Identity
	}
	r.logger.Warn("message blocked",
		"direction", fc.Direction,
		"method", fc.Method(),
		"reason", reason,
		"identity", identity,
	)
}

func (r *Relay) writeClient(w io.Writer, msg *api.JSONRPCMessage) error {
	data, err := jsonrpc.Marshal(msg)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return writeLine(w, data)
}

// requestID returns the message id when the blocked line is a request that
// expects a response.
func requestID(fc *filter.Context) json.RawMessage {
	if fc.Msg == nil || fc.Msg.Kind != jsonrpc.KindRequest || fc.Msg.Msg == nil {
		return nil
	}
	return fc.Msg.Msg.ID
}

func blockMessage(fc *filter.Context) string {
	if fc.Decision != nil && fc.Decision.Message != "" {
		return fc.Decision.Message
	}
	return "blocked by contact policy"
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

func writeLine(w io.Writer, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}
