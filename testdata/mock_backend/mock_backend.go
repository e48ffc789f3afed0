// mock_backend.go is a minimal stand-in for `imsg rpc` for manual testing.
// It answers a handful of methods and emits a fake inbound message shortly
// after a watch.subscribe.
// Usage: go run mock_backend.go rpc
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type jsonrpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var stdoutMu sync.Mutex

func writeLine(v any) {
	data, _ := json.Marshal(v)
	stdoutMu.Lock()
	fmt.Println(string(data))
	stdoutMu.Unlock()
}

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg jsonrpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			fmt.Fprintf(os.Stderr, "mock_backend: invalid JSON: %v\n", err)
			continue
		}

		var resp jsonrpcMessage
		resp.JSONRPC = "2.0"
		resp.ID = msg.ID

		switch msg.Method {
		case "send":
			resp.Result = json.RawMessage(`{"sent":true}`)

		case "chats.list":
			resp.Result = json.RawMessage(`{"chats":[{"guid":"iMessage;-;+15551234567","last_message":"hey"}]}`)

		case "watch.subscribe":
			resp.Result = json.RawMessage(`{"subscribed":true}`)
			// Deliver a fake inbound message a moment later.
			go func() {
				time.Sleep(200 * time.Millisecond)
				writeLine(jsonrpcMessage{
					JSONRPC: "2.0",
					Method:  "message",
					Params:  json.RawMessage(`{"sender":"+15551234567","text":"hello from mock","is_from_me":false}`),
				})
			}()

		case "ping":
			resp.Result = json.RawMessage(`{}`)

		default:
			resp.Error = &jsonrpcError{
				Code:    -32601,
				Message: fmt.Sprintf("method not found: %s", msg.Method),
			}
		}

		if msg.ID == nil {
			continue
		}
		writeLine(resp)
	}
}
