// Package config resolves respawn settings from flags, RESPAWN_* environment
// variables, a config.yaml file and built-in defaults, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Keys
const (
	KeySpecDir     = "spec-dir"
	KeyMaxRestarts = "max-restarts"
	KeyDelay       = "delay"
	KeyAgent       = "agent"
	KeyAgentArgs   = "agent-args"
	KeyAgentDir    = "agent-dir"
	KeyNamespace   = "namespace"
	KeyRestartFlag = "restart-flag"
	KeyHooksDir    = "hooks-dir"
	KeyLock        = "lock"
	KeyStateDir    = "state-dir"
)

// ProjectDirName holds per-project respawn files: config, lock, hooks, events.
const ProjectDirName = ".respawn"

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigType("yaml")

	// Project config: walk up from CWD looking for .respawn/config.yaml.
	// User config: $XDG_CONFIG_HOME/respawn/config.yaml (or ~/.config).
	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESPAWN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeySpecDir, "./specs")
	v.SetDefault(KeyMaxRestarts, 50)
	v.SetDefault(KeyDelay, 2.0)
	v.SetDefault(KeyAgent, "claude")
	v.SetDefault(KeyAgentArgs, []string{"--dangerously-skip-permissions", "--print"})
	v.SetDefault(KeyAgentDir, "")
	v.SetDefault(KeyNamespace, "specflow")
	v.SetDefault(KeyRestartFlag, "--auto-restart")
	v.SetDefault(KeyHooksDir, filepath.Join(ProjectDirName, "hooks"))
	v.SetDefault(KeyLock, true)
	v.SetDefault(KeyStateDir, ProjectDirName)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	return nil
}

func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			p := filepath.Join(dir, ProjectDirName, "config.yaml")
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, "respawn", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ResetForTesting drops the singleton so the next Initialize starts clean.
func ResetForTesting() {
	v = nil
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize()
	}
	return v
}

// ConfigFileUsed returns the config file that was read, if any.
func ConfigFileUsed() string {
	return ensure().ConfigFileUsed()
}

func GetString(key string) string {
	return ensure().GetString(key)
}

func GetInt(key string) int {
	return ensure().GetInt(key)
}

func GetBool(key string) bool {
	return ensure().GetBool(key)
}

func GetFloat64(key string) float64 {
	return ensure().GetFloat64(key)
}

func GetStringSlice(key string) []string {
	return ensure().GetStringSlice(key)
}

// Set overrides a value at the highest precedence. Used for flags the user
// changed explicitly.
func Set(key string, value interface{}) {
	ensure().Set(key, value)
}

// Settings is the typed view of the effective configuration.
type Settings struct {
	SpecDir     string   `json:"spec_dir" yaml:"spec-dir" toml:"spec-dir"`
	MaxRestarts int      `json:"max_restarts" yaml:"max-restarts" toml:"max-restarts"`
	Delay       float64  `json:"delay" yaml:"delay" toml:"delay"`
	Agent       string   `json:"agent" yaml:"agent" toml:"agent"`
	AgentArgs   []string `json:"agent_args" yaml:"agent-args" toml:"agent-args"`
	AgentDir    string   `json:"agent_dir,omitempty" yaml:"agent-dir,omitempty" toml:"agent-dir,omitempty"`
	Namespace   string   `json:"namespace" yaml:"namespace" toml:"namespace"`
	RestartFlag string   `json:"restart_flag" yaml:"restart-flag" toml:"restart-flag"`
	HooksDir    string   `json:"hooks_dir" yaml:"hooks-dir" toml:"hooks-dir"`
	StateDir    string   `json:"state_dir" yaml:"state-dir" toml:"state-dir"`
	Lock        bool     `json:"lock" yaml:"lock" toml:"lock"`
}

// DelayDuration converts the delay in seconds.
func (s Settings) DelayDuration() time.Duration {
	return time.Duration(s.Delay * float64(time.Second))
}

// ErrInvalid wraps every validation failure from Load.
var ErrInvalid = errors.New("invalid configuration")

// Load returns the effective, validated settings.
func Load() (Settings, error) {
	ensure()
	s := Settings{
		SpecDir:     GetString(KeySpecDir),
		MaxRestarts: GetInt(KeyMaxRestarts),
		Delay:       GetFloat64(KeyDelay),
		Agent:       strings.TrimSpace(GetString(KeyAgent)),
		AgentArgs:   agentArgs(),
		AgentDir:    strings.TrimSpace(GetString(KeyAgentDir)),
		Namespace:   strings.TrimSpace(GetString(KeyNamespace)),
		RestartFlag: strings.TrimSpace(GetString(KeyRestartFlag)),
		HooksDir:    GetString(KeyHooksDir),
		StateDir:    GetString(KeyStateDir),
		Lock:        GetBool(KeyLock),
	}

	switch {
	case s.MaxRestarts < 1:
		return s, fmt.Errorf("%w: max-restarts must be at least 1, got %d", ErrInvalid, s.MaxRestarts)
	case s.Delay < 0:
		return s, fmt.Errorf("%w: delay must not be negative, got %g", ErrInvalid, s.Delay)
	case s.Agent == "":
		return s, fmt.Errorf("%w: agent must not be empty", ErrInvalid)
	case s.SpecDir == "":
		return s, fmt.Errorf("%w: spec-dir must not be empty", ErrInvalid)
	}
	if s.Namespace == "" {
		s.Namespace = "specflow"
	}
	return s, nil
}

// agentArgs accepts a YAML list or a whitespace-separated string (the form
// RESPAWN_AGENT_ARGS arrives in).
func agentArgs() []string {
	if raw, ok := ensure().Get(KeyAgentArgs).(string); ok {
		return strings.Fields(raw)
	}
	return GetStringSlice(KeyAgentArgs)
}
