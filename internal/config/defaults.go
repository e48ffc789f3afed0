package config

import "time"

const (
	DefaultListen       = "0.0.0.0:8788"
	DefaultBackendPath  = "/opt/homebrew/bin/imsg"
	DefaultBufferMax    = 500
	DefaultRPCTimeout   = 15 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// DefaultLogDir returns the default decision-log directory path.
func DefaultLogDir() string {
	return "~/.imsgguard/logs"
}
