// Copyright 2026 © The Harness Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads harness settings from defaults, a YAML or JSON file,
// environment variables and command line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/harness/pkg/mcp"
	"github.com/jllopis/harness/pkg/telemetry"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const envPrefix = "HARNESS_"

type Config struct {
	Log       LogConfig        `koanf:"log"`
	LLM       LLMConfig        `koanf:"llm"`
	Agent     AgentConfig      `koanf:"agent"`
	Memory    MemoryConfig     `koanf:"memory"`
	MCP       MCPConfig        `koanf:"mcp"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	Journal   JournalConfig    `koanf:"journal"`
	Output    OutputConfig     `koanf:"output"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider       string `koanf:"provider"` // ollama, mock
	Model          string `koanf:"model"`
	BaseURL        string `koanf:"base_url"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

type AgentConfig struct {
	MaxSteps         int    `koanf:"max_steps"`
	MaxContextTokens int    `koanf:"max_context_tokens"`
	FilesystemRoot   string `koanf:"filesystem_root"`
}

type MemoryConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Backend         string `koanf:"backend"` // qdrant, inmemory
	QdrantAddr      string `koanf:"qdrant_addr"`
	Collection      string `koanf:"collection"`
	VectorSize      int    `koanf:"vector_size"`
	EmbedderBaseURL string `koanf:"embedder_base_url"`
	EmbedderModel   string `koanf:"embedder_model"`
}

// MCPConfig lists capability providers. Order is significant: earlier
// servers win name collisions.
type MCPConfig struct {
	Servers []mcp.ServerConfig `koanf:"servers"`
	// TimeoutSeconds bounds each discovery and capability request.
	TimeoutSeconds int `koanf:"timeout_seconds"`
	// Retries applies to discovery only. Capability calls run once.
	Retries int `koanf:"retries"`
}

// Timeout returns the per-request timeout as a duration.
func (c MCPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// OutputConfig enables writing single-task answers to <dir>/<job_id>.txt.
type OutputConfig struct {
	Dir   string `koanf:"dir"`
	JobID string `koanf:"job_id"`
}

// OutputPath returns the answer file path, or "" when persistence is off.
func (o OutputConfig) OutputPath() string {
	if o.Dir == "" {
		return ""
	}
	id := o.JobID
	if id == "" {
		id = "unknown"
	}
	return filepath.Join(o.Dir, id+".txt")
}

// DefaultPath is ~/.harness/config.json, or "" when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".harness", "config.json")
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "harness", "runs.db")
	}
	return filepath.Join(home, ".harness", "runs.db")
}

func setDefaults(k *koanf.Koanf) {
	k.Set("log.level", "warn")
	k.Set("log.format", "text")

	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "codestral:22b-v0.1-q8_0")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.timeout_seconds", 300)

	k.Set("agent.max_steps", 20)
	k.Set("agent.max_context_tokens", 28000)
	k.Set("agent.filesystem_root", "/tmp")

	k.Set("mcp.timeout_seconds", 30)
	k.Set("mcp.retries", 2)

	k.Set("memory.enabled", true)
	k.Set("memory.backend", "qdrant")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "code")
	k.Set("memory.vector_size", 768)
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)
	k.Set("telemetry.otlp_timeout_seconds", 10)

	k.Set("journal.enabled", true)
	k.Set("journal.path", defaultJournalPath())
}

// Load reads defaults, the optional file at path and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile also merges the profile file next to path, e.g.
// config.dev.yaml for config.yaml and profile "dev", when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil, os.Getenv)
}

// LoadWithCLI parses --config, --profile (alias --env) and repeated
// --set key=value from args. Without --config, ~/.harness/config.json is
// read when it exists.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	path := opts.path
	if path == "" {
		if p := DefaultPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	return load(path, opts.profile, opts.sets, os.Getenv)
}

func load(path, profile string, sets map[string]any, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := loadFile(k, p); err != nil {
				return nil, err
			}
		}
	}

	applyLegacyEnv(k, getenv)

	// HARNESS_LLM_BASE_URL -> llm.base_url
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	for key, value := range sets {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("config: --set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !k.Exists("mcp.servers") {
		cfg.MCP.Servers = DefaultServers(cfg.Agent.FilesystemRoot, getenv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	migrateLegacyKeys(k)
	return nil
}

// migrateLegacyKeys maps the flat keys of older config.json files
// (chat_model, max_steps, max_context_tokens, mcp_servers) onto sections.
func migrateLegacyKeys(k *koanf.Koanf) {
	legacy := map[string]string{
		"chat_model":         "llm.model",
		"max_steps":          "agent.max_steps",
		"max_context_tokens": "agent.max_context_tokens",
		"mcp_servers":        "mcp.servers",
	}
	for from, to := range legacy {
		if k.Exists(from) {
			k.Set(to, k.Get(from))
			k.Delete(from)
		}
	}
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if key == "job_id" {
		return "output.job_id"
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

func applyLegacyEnv(k *koanf.Koanf, getenv func(string) string) {
	direct := []struct{ env, key string }{
		{"CHAT_MODEL", "llm.model"},
		{"MAX_STEPS", "agent.max_steps"},
		{"MAX_CONTEXT_TOKENS", "agent.max_context_tokens"},
		{"OLLAMA_HOST", "llm.base_url"},
		{"OLLAMA_HOST", "memory.embedder_base_url"},
		{"FILESYSTEM_ROOT", "agent.filesystem_root"},
	}
	for _, d := range direct {
		if v := getenv(d.env); v != "" {
			k.Set(d.key, v)
		}
	}

	host, port := getenv("QDRANT_HOST"), getenv("QDRANT_PORT")
	if host != "" || port != "" {
		current := k.String("memory.qdrant_addr")
		h, p, _ := strings.Cut(current, ":")
		if host != "" {
			h = host
		}
		if port != "" {
			p = port
		}
		k.Set("memory.qdrant_addr", h+":"+p)
	}
}

var contrastEnv = []string{
	"CONTRAST_HOST_NAME",
	"CONTRAST_API_KEY",
	"CONTRAST_ORG_ID",
	"CONTRAST_SERVICE_KEY",
	"CONTRAST_USERNAME",
}

// DefaultServers returns the filesystem provider rooted at root, plus the
// Contrast provider when CONTRAST_API_KEY is set.
func DefaultServers(root string, getenv func(string) string) []mcp.ServerConfig {
	if getenv == nil {
		getenv = os.Getenv
	}
	servers := []mcp.ServerConfig{{
		Name:      "filesystem",
		Transport: mcp.TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", root},
	}}
	if getenv("CONTRAST_API_KEY") != "" {
		envs := make(map[string]string, len(contrastEnv))
		for _, name := range contrastEnv {
			envs[name] = getenv(name)
		}
		servers = append(servers, mcp.ServerConfig{
			Name:      "contrast",
			Transport: mcp.TransportStdio,
			Command:   "java",
			Args:      []string{"-jar", "/opt/mcp-contrast.jar", "-t", "stdio"},
			Env:       envs,
		})
	}
	return servers
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps < 1 {
		return fmt.Errorf("config: agent.max_steps must be at least 1, got %d", c.Agent.MaxSteps)
	}
	switch c.Memory.Backend {
	case "qdrant", "inmemory":
	default:
		return fmt.Errorf("config: unknown memory.backend %q", c.Memory.Backend)
	}
	if c.MCP.TimeoutSeconds < 0 || c.MCP.Retries < 0 {
		return fmt.Errorf("config: mcp.timeout_seconds and mcp.retries must not be negative")
	}
	seen := make(map[string]bool, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate mcp server %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// profileConfigPath returns <dir>/<name>.<profile><ext> when that file exists.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	p := filepath.Join(filepath.Dir(base), name+"."+profile+ext)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

type cliOptions struct {
	path    string
	profile string
	sets    map[string]any
}

// parseCLIOverrides extracts config flags and ignores everything else.
func parseCLIOverrides(args []string) (cliOptions, error) {
	opts := cliOptions{sets: map[string]any{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("config: %s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, fmt.Errorf("config: --set expects key=value, got %q", value)
			}
			opts.sets[key] = parseValue(raw)
		}
	}
	return opts, nil
}

// parseValue decodes YAML scalars, lists and maps, falling back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
