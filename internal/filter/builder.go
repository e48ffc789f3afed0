package filter

import (
	"log/slog"

	"github.com/imsgguard/imsg-guard/internal/audit"
	"github.com/imsgguard/imsg-guard/internal/policy"
)

// ChainConfig holds the configuration for building filter chains.
type ChainConfig struct {
	Contacts   *policy.ContactPolicy
	Methods    policy.Engine // nil = allow non-send methods
	AuditStore audit.Store   // nil = no audit trail
	Logger     *slog.Logger
	Scrub      bool
	RateLimit  *RateLimitConfig
}

// BuildOutboundChain constructs the client→backend filter chain.
func BuildOutboundChain(cfg ChainConfig) *Chain {
	filters := []Filter{
		NewClassifyFilter(),
		NewPolicyFilter(cfg.Contacts, cfg.Methods),
	}

	// Rate limits run after policy so denials take precedence and the
	// destination alias is already resolved.
	if cfg.RateLimit != nil {
		filters = append(filters, NewRateLimitFilter(*cfg.RateLimit))
	}

	if cfg.AuditStore != nil {
		filters = append(filters, NewAuditFilter(cfg.AuditStore))
	}

	return NewChain(cfg.Logger, filters...)
}

// BuildInboundChain constructs the backend→client filter chain.
func BuildInboundChain(cfg ChainConfig) *Chain {
	filters := []Filter{
		NewClassifyFilter(),
		NewPolicyFilter(cfg.Contacts, nil),
	}

	if cfg.Scrub {
		filters = append(filters, NewScrubFilter(cfg.Contacts.Directory(), cfg.Logger))
	}

	if cfg.AuditStore != nil {
		filters = append(filters, NewAuditFilter(cfg.AuditStore))
	}

	return NewChain(cfg.Logger, filters...)
}
