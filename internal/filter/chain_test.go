package filter

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/contacts"
	"github.com/imsgguard/imsg-guard/internal/policy"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContactPolicy(t *testing.T) *policy.ContactPolicy {
	t.Helper()
	dir, err := contacts.NewDirectory(map[string]string{
		"noah":  "+15551234567",
		"alice": "alice@icloud.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return policy.NewContactPolicy(dir, policy.ContactPolicyConfig{})
}

func TestOutboundChain_RewritesAlias(t *testing.T) {
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
	})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"noah","text":"hi"}}`)
	fc := NewContext(raw, api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Halted {
		t.Fatal("expected not halted")
	}
	out := string(fc.Out())
	if !strings.Contains(out, `"+15551234567"`) {
		t.Errorf("expected output to carry the real handle, got %s", out)
	}
	if strings.Contains(out, "noah") {
		t.Errorf("expected alias replaced in output, got %s", out)
	}
}

func TestOutboundChain_BlocksUnknown(t *testing.T) {
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
	})

	fc := NewContext([]byte(`{"jsonrpc":"2.0","id":2,"method":"send","params":{"to":"bob"}}`), api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted || fc.Decision.Reason != api.ReasonUnknownContact {
		t.Fatalf("expected halt with unknown_contact, got %+v", fc.Decision)
	}
}

func TestOutboundChain_MethodPolicy(t *testing.T) {
	methods, err := policy.NewRulesEngine([]policy.Rule{
		{Name: "no-history", Match: policy.RuleMatch{Method: "messages.list"}, Action: "block", Message: "history reads are not allowed"},
	}, api.ActionAllow)
	if err != nil {
		t.Fatal(err)
	}
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Methods:  methods,
		Logger:   newTestLogger(),
	})

	fc := NewContext([]byte(`{"jsonrpc":"2.0","id":3,"method":"messages.list","params":{}}`), api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted || fc.Decision.Reason != api.ReasonMethodDenied {
		t.Fatalf("expected method_denied, got %+v", fc.Decision)
	}

	// send is never delegated to the method engine
	fc = NewContext([]byte(`{"jsonrpc":"2.0","id":4,"method":"send","params":{"to":"noah"}}`), api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Halted {
		t.Fatalf("expected send handled by contact policy, got %+v", fc.Decision)
	}
}

func TestOutboundChain_UnparsedPassesThrough(t *testing.T) {
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
	})

	raw := []byte("some log noise")
	fc := NewContext(raw, api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Halted {
		t.Fatal("unparsed line must not be blocked")
	}
	if string(fc.Out()) != "some log noise" {
		t.Errorf("unparsed line must pass through unmodified, got %q", fc.Out())
	}
}

func TestInboundChain_RewritesSender(t *testing.T) {
	chain := BuildInboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
	})

	raw := []byte(`{"jsonrpc":"2.0","method":"message","params":{"sender":"+15551234567","text":"hello"}}`)
	fc := NewContext(raw, api.DirectionInbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	out := string(fc.Out())
	if strings.Contains(out, "+15551234567") {
		t.Errorf("real handle leaked to untrusted side: %s", out)
	}
	if !strings.Contains(out, `"noah"`) {
		t.Errorf("expected alias in output, got %s", out)
	}
}

func TestInboundChain_ScrubsResidualHandles(t *testing.T) {
	chain := BuildInboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
		Scrub:    true,
	})

	// The chat_guid embeds the sender's handle in a field the sender-key
	// rewrite does not cover.
	raw := []byte(`{"jsonrpc":"2.0","method":"message","params":{"sender":"+15551234567","chat_guid":"iMessage;-;+15551234567","note":"call Alice@iCloud.com"}}`)
	fc := NewContext(raw, api.DirectionInbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	out := string(fc.Out())
	if strings.Contains(out, "5551234567") {
		t.Errorf("phone handle leaked: %s", out)
	}
	if strings.Contains(strings.ToLower(out), "alice@icloud.com") {
		t.Errorf("email handle leaked: %s", out)
	}
}

func TestRateLimitFilter_PerContact(t *testing.T) {
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
		RateLimit: &RateLimitConfig{
			PerContact: map[string]*RateLimit{
				"noah": {Max: 2, Window: time.Minute},
			},
		},
	})

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"noah"}}`)
	for i := 0; i < 2; i++ {
		fc := NewContext(raw, api.DirectionOutbound)
		if err := chain.Process(context.Background(), fc); err != nil {
			t.Fatal(err)
		}
		if fc.Halted {
			t.Fatalf("send %d: unexpectedly blocked: %+v", i, fc.Decision)
		}
	}

	fc := NewContext(raw, api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted || fc.Decision.Reason != api.ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %+v", fc.Decision)
	}
}

func TestRateLimitFilter_HandleAddressedSendsShareAliasWindow(t *testing.T) {
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
		RateLimit: &RateLimitConfig{
			PerContact: map[string]*RateLimit{
				"noah": {Max: 2, Window: time.Minute},
			},
		},
	})

	// Addressing the contact by raw handle must count against the same
	// alias-keyed window as addressing by alias.
	byHandle := []byte(`{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"+15551234567"}}`)
	byAlias := []byte(`{"jsonrpc":"2.0","id":2,"method":"send","params":{"to":"noah"}}`)

	for i, raw := range [][]byte{byHandle, byAlias} {
		fc := NewContext(raw, api.DirectionOutbound)
		if err := chain.Process(context.Background(), fc); err != nil {
			t.Fatal(err)
		}
		if fc.Halted {
			t.Fatalf("send %d: unexpectedly blocked: %+v", i, fc.Decision)
		}
	}

	fc := NewContext(byHandle, api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted || fc.Decision.Reason != api.ReasonRateLimited {
		t.Fatalf("expected rate_limited on third send, got %+v", fc.Decision)
	}
	if fc.Decision.Identity != "noah" {
		t.Errorf("expected limit keyed on alias noah, got %q", fc.Decision.Identity)
	}
}

func TestContext_ToAuditRecord(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"send","params":{"to":"bob"}}`)
	chain := BuildOutboundChain(ChainConfig{
		Contacts: testContactPolicy(t),
		Logger:   newTestLogger(),
	})
	fc := NewContext(raw, api.DirectionOutbound)
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}

	rec := fc.ToAuditRecord()
	if rec.Method != "send" {
		t.Errorf("expected method send, got %q", rec.Method)
	}
	if rec.Action != api.ActionBlock || rec.Reason != api.ReasonUnknownContact {
		t.Errorf("expected block/unknown_contact, got %s/%s", rec.Action, rec.Reason)
	}
	if rec.Identity != "bob" {
		t.Errorf("expected identity bob, got %q", rec.Identity)
	}
	if rec.RawSize != len(raw) {
		t.Errorf("expected raw size %d, got %d", len(raw), rec.RawSize)
	}
}
