package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/policy"
	"gopkg.in/yaml.v3"
)

// File is the YAML configuration file shape.
type File struct {
	Version  int               `yaml:"version"`
	Contacts map[string]string `yaml:"contacts,omitempty"`
	Settings Settings          `yaml:"settings"`
	Rules    []policy.Rule     `yaml:"rules,omitempty"`
}

// Settings contains runtime settings. Durations are strings parsed with
// time.ParseDuration.
type Settings struct {
	Token               string             `yaml:"token,omitempty"`
	Listen              string             `yaml:"listen,omitempty"`
	BackendPath         string             `yaml:"backend_path,omitempty"`
	DBPath              string             `yaml:"db_path,omitempty"`
	BridgeURL           string             `yaml:"bridge_url,omitempty"`
	ContactsFile        string             `yaml:"contacts_file,omitempty"`
	BufferMax           int                `yaml:"buffer_max,omitempty"`
	RPCTimeout          string             `yaml:"rpc_timeout,omitempty"`
	PollInterval        string             `yaml:"poll_interval,omitempty"`
	MessageMethods      []string           `yaml:"message_methods,omitempty"`
	IndirectKeys        []string           `yaml:"indirect_keys,omitempty"`
	SenderKeys          []string           `yaml:"sender_keys,omitempty"`
	DefaultMethodAction string             `yaml:"default_method_action,omitempty"`
	MethodPolicy        string             `yaml:"method_policy,omitempty"`
	LogDir              string             `yaml:"log_dir,omitempty"`
	Scrub               *bool              `yaml:"scrub,omitempty"`
	RateLimit           *RateLimitSettings `yaml:"rate_limit,omitempty"`
}

// RateLimitSettings configures send rate limiting.
type RateLimitSettings struct {
	Global     *RateLimitRule            `yaml:"global,omitempty"`
	PerContact map[string]*RateLimitRule `yaml:"per_contact,omitempty"`
}

// RateLimitRule defines a rate limit: max sends per time window.
type RateLimitRule struct {
	Max    int    `yaml:"max"`
	Window string `yaml:"window"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Contacts map[string]string
	Rules    []policy.Rule

	Token               string
	Listen              string
	BackendPath         string
	DBPath              string
	BridgeURL           string
	BufferMax           int
	RPCTimeout          time.Duration
	PollInterval        time.Duration
	MessageMethods      []string
	IndirectKeys        []string
	SenderKeys          []string
	DefaultMethodAction api.Action
	MethodPolicy        string
	LogDir              string
	Scrub               bool
	RateLimit           *RateLimitSettings
}

// Load reads the YAML config file (path may be empty), layers the IMSG_*
// environment variables over it, resolves defaults and loads the contacts
// map. All failures here are fatal configuration errors.
func Load(path string) (*Config, error) {
	f := &File{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
		if f.Version != 0 && f.Version != 1 {
			return nil, fmt.Errorf("unsupported config version: %d (expected 1)", f.Version)
		}
	}
	return resolve(f)
}

// LoadBytes parses YAML config data, with the same env layering as Load.
func LoadBytes(data []byte) (*Config, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return resolve(f)
}

func resolve(f *File) (*Config, error) {
	cfg := &Config{
		Contacts:       f.Contacts,
		Rules:          f.Rules,
		Token:          f.Settings.Token,
		Listen:         f.Settings.Listen,
		BackendPath:    f.Settings.BackendPath,
		DBPath:         f.Settings.DBPath,
		BridgeURL:      f.Settings.BridgeURL,
		BufferMax:      f.Settings.BufferMax,
		MessageMethods: f.Settings.MessageMethods,
		IndirectKeys:   f.Settings.IndirectKeys,
		SenderKeys:     f.Settings.SenderKeys,
		MethodPolicy:   f.Settings.MethodPolicy,
		LogDir:         f.Settings.LogDir,
		Scrub:          true,
	}
	if f.Settings.Scrub != nil {
		cfg.Scrub = *f.Settings.Scrub
	}

	var err error
	if cfg.RPCTimeout, err = parseDuration(f.Settings.RPCTimeout, DefaultRPCTimeout); err != nil {
		return nil, fmt.Errorf("invalid rpc_timeout: %w", err)
	}
	if cfg.PollInterval, err = parseDuration(f.Settings.PollInterval, DefaultPollInterval); err != nil {
		return nil, fmt.Errorf("invalid poll_interval: %w", err)
	}

	switch f.Settings.DefaultMethodAction {
	case "":
		cfg.DefaultMethodAction = api.ActionAllow
	case "allow", "block":
		cfg.DefaultMethodAction = api.Action(f.Settings.DefaultMethodAction)
	default:
		return nil, fmt.Errorf("invalid default_method_action %q", f.Settings.DefaultMethodAction)
	}

	cfg.RateLimit = f.Settings.RateLimit
	if cfg.RateLimit != nil {
		if err := validateRateLimit(cfg.RateLimit); err != nil {
			return nil, err
		}
	}
	if err := policy.ValidateRules(cfg.Rules); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if cfg.Contacts == nil {
		contacts, err := loadContacts(f.Settings.ContactsFile)
		if err != nil {
			return nil, err
		}
		cfg.Contacts = contacts
	}

	cfg.LogDir = expandHome(cfg.LogDir)
	return cfg, nil
}

// applyEnv layers the original deployment's environment surface over the
// file settings. Env wins.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("IMSG_BRIDGE_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("IMSG_PATH"); v != "" {
		cfg.BackendPath = v
	}
	if v := os.Getenv("IMSG_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("IMSG_BRIDGE_URL"); v != "" {
		cfg.BridgeURL = v
	}

	host := os.Getenv("IMSG_BRIDGE_HOST")
	port := os.Getenv("IMSG_BRIDGE_PORT")
	if host != "" || port != "" {
		if host == "" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8788"
		}
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid IMSG_BRIDGE_PORT %q", port)
		}
		cfg.Listen = host + ":" + port
	}

	if v := os.Getenv("IMSG_POLL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid IMSG_POLL_MS %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.BackendPath == "" {
		cfg.BackendPath = DefaultBackendPath
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = DefaultBufferMax
	}
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
}

// loadContacts reads the alias→handle map from the contacts file setting,
// IMSG_CONTACTS_FILE, or the inline IMSG_CONTACTS JSON.
func loadContacts(filePath string) (map[string]string, error) {
	if v := os.Getenv("IMSG_CONTACTS_FILE"); v != "" {
		filePath = v
	}
	inline := os.Getenv("IMSG_CONTACTS")

	switch {
	case filePath != "":
		data, err := os.ReadFile(expandHome(filePath))
		if err != nil {
			return nil, fmt.Errorf("reading contacts file: %w", err)
		}
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid JSON in contacts file %s: %w", filePath, err)
		}
		return m, nil
	case inline != "":
		var m map[string]string
		if err := json.Unmarshal([]byte(inline), &m); err != nil {
			return nil, fmt.Errorf("invalid IMSG_CONTACTS JSON: %w", err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

// RequireContacts fails startup when no contacts are configured.
func (c *Config) RequireContacts() error {
	if len(c.Contacts) == 0 {
		return errors.New("no contacts configured: set contacts in the config file, IMSG_CONTACTS_FILE, or IMSG_CONTACTS")
	}
	return nil
}

// RequireToken fails startup when no bearer token is configured.
func (c *Config) RequireToken() error {
	if c.Token == "" {
		return errors.New("bearer token is required: set settings.token or IMSG_BRIDGE_TOKEN")
	}
	return nil
}

// RequireBridgeURL fails startup when the bridge URL is not configured.
func (c *Config) RequireBridgeURL() error {
	if c.BridgeURL == "" {
		return errors.New("bridge URL is required: set settings.bridge_url or IMSG_BRIDGE_URL")
	}
	return nil
}

func validateRateLimit(s *RateLimitSettings) error {
	check := func(name string, r *RateLimitRule) error {
		if r == nil {
			return nil
		}
		if r.Max <= 0 {
			return fmt.Errorf("rate_limit %s: max must be positive", name)
		}
		if _, err := time.ParseDuration(r.Window); err != nil {
			return fmt.Errorf("rate_limit %s: invalid window %q: %w", name, r.Window, err)
		}
		return nil
	}
	if err := check("global", s.Global); err != nil {
		return err
	}
	for alias, r := range s.PerContact {
		if err := check(alias, r); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
