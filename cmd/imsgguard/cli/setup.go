package cli

import (
	"fmt"
	"time"

	"github.com/imsgguard/imsg-guard/internal/audit"
	"github.com/imsgguard/imsg-guard/internal/config"
	"github.com/imsgguard/imsg-guard/internal/contacts"
	"github.com/imsgguard/imsg-guard/internal/filter"
	"github.com/imsgguard/imsg-guard/internal/policy"
)

// runtime bundles the loaded config and the filter machinery the commands
// share.
type runtime struct {
	cfg        *config.Config
	dir        *contacts.Directory
	chainCfg   filter.ChainConfig
	auditStore audit.Store
}

// buildRuntime loads the config and assembles the directory, policies and
// chain configuration. withAudit controls whether the JSONL audit trail is
// opened; the offline commands skip it.
func buildRuntime(withAudit bool) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.RequireContacts(); err != nil {
		return nil, err
	}

	dir, err := contacts.NewDirectory(cfg.Contacts)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}

	contactPolicy := policy.NewContactPolicy(dir, policy.ContactPolicyConfig{
		MessageMethods: cfg.MessageMethods,
		IndirectKeys:   cfg.IndirectKeys,
		SenderKeys:     cfg.SenderKeys,
	})

	methods, err := buildMethodEngine(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg: cfg,
		dir: dir,
		chainCfg: filter.ChainConfig{
			Contacts:  contactPolicy,
			Methods:   methods,
			Logger:    logger,
			Scrub:     cfg.Scrub,
			RateLimit: rateLimitConfig(cfg.RateLimit),
		},
	}

	if withAudit {
		store, err := audit.NewJSONLStore(cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("creating audit store: %w", err)
		}
		rt.auditStore = store
		rt.chainCfg.AuditStore = store
	}

	return rt, nil
}

// close releases runtime resources.
func (rt *runtime) close() {
	if rt.auditStore != nil {
		_ = rt.auditStore.Close()
	}
}

// buildMethodEngine picks the method policy layer: a Rego policy file when
// configured, otherwise the YAML rules, otherwise none.
func buildMethodEngine(cfg *config.Config) (policy.Engine, error) {
	if cfg.MethodPolicy != "" {
		engine, err := policy.NewOPAEngine(cfg.MethodPolicy)
		if err != nil {
			return nil, fmt.Errorf("loading method policy: %w", err)
		}
		return engine, nil
	}
	if len(cfg.Rules) > 0 {
		engine, err := policy.NewRulesEngine(cfg.Rules, cfg.DefaultMethodAction)
		if err != nil {
			return nil, fmt.Errorf("building method rules: %w", err)
		}
		return engine, nil
	}
	return nil, nil
}

// rateLimitConfig converts the config's rate limit settings. Windows are
// validated at load time so parse errors cannot occur here.
func rateLimitConfig(s *config.RateLimitSettings) *filter.RateLimitConfig {
	if s == nil {
		return nil
	}
	out := &filter.RateLimitConfig{}
	if s.Global != nil {
		out.Global = toRateLimit(s.Global)
	}
	if len(s.PerContact) > 0 {
		out.PerContact = make(map[string]*filter.RateLimit, len(s.PerContact))
		for alias, rule := range s.PerContact {
			out.PerContact[alias] = toRateLimit(rule)
		}
	}
	return out
}

func toRateLimit(r *config.RateLimitRule) *filter.RateLimit {
	window, _ := time.ParseDuration(r.Window)
	return &filter.RateLimit{Max: r.Max, Window: window}
}
