// Package config defines the taskdeck application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level taskdeck configuration.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Auth     AuthConfig    `json:"auth" yaml:"auth"`
	Gateway  GatewayConfig `json:"gateway" yaml:"gateway"`
	Project  ProjectConfig `json:"project" yaml:"project"`
	Agents   []AgentConfig `json:"agents" yaml:"agents"`
	DataDir  string        `json:"data_dir" yaml:"data_dir"`
	LogLevel string        `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":8080"
}

// AuthConfig controls board authentication. Every writer, browser or
// agent session, presents the same shared credential. An empty
// credential disables authentication.
type AuthConfig struct {
	Credential string `json:"credential" yaml:"credential"`
}

// GatewayConfig points at the agent execution gateway. When Enabled is
// false the board runs as a plain task tracker and never contacts the
// gateway.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Token   string `json:"token" yaml:"token"`
}

// ProjectConfig carries the deployment strings substituted into
// guardrail bundles and exposed to board clients as branding.
type ProjectConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Company      string   `json:"company" yaml:"company"`
	Context      string   `json:"context" yaml:"context"`
	AllowedPaths []string `json:"allowed_paths" yaml:"allowed_paths"`
	Compliance   []string `json:"compliance,omitempty" yaml:"compliance"`
	BoardTitle   string   `json:"board_title" yaml:"board_title"`
	BoardURL     string   `json:"board_url" yaml:"board_url"` // base URL agents call back on
	HumanName    string   `json:"human_name" yaml:"human_name"`
}

// AgentConfig defines a single agent on the roster.
type AgentConfig struct {
	Name         string `json:"name" yaml:"name"`
	ID           string `json:"id" yaml:"id"` // gateway execution identifier
	Profile      string `json:"profile,omitempty" yaml:"profile"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// DefaultConfig returns a config with sensible defaults and the
// standard agent roster.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://127.0.0.1:18789",
		},
		Project: ProjectConfig{
			Name:         "My Project",
			Company:      "Acme Corp",
			Context:      "software development",
			AllowedPaths: []string{"/workspace", "/project"},
			BoardTitle:   "Task Board",
			BoardURL:     "http://localhost:8080",
			HumanName:    "User",
		},
		DataDir:  "./data",
		LogLevel: "info",
		Agents: []AgentConfig{
			{
				Name:    "Jarvis",
				ID:      "main",
				Profile: "lead",
				SystemPrompt: "You are Jarvis, the lead coordinator. You triage tasks, answer questions " +
					"raised by other agents, and execute work yourself when no specialist fits. " +
					"Monitor open question items and either answer them or leave them for the " +
					"human supervisor, who has final authority.",
			},
			{
				Name: "Architect",
				ID:   "architect",
				SystemPrompt: "You are the Architect. Review designs and implementations for soundness, " +
					"scalability, and maintainability. Flag structural problems with a severity " +
					"(CRITICAL, HIGH, MEDIUM, LOW) and propose the smallest change that resolves each.",
			},
			{
				Name: "Security Auditor",
				ID:   "security-auditor",
				SystemPrompt: "You are the Security Auditor. Audit changes against SOC2, HIPAA, CIS " +
					"benchmarks, and the OWASP Top 10. Report findings with a severity (CRITICAL, " +
					"HIGH, MEDIUM, LOW, INFO). A CRITICAL finding blocks deployment until resolved. " +
					"Security over convenience, always.",
			},
			{
				Name: "Code Reviewer",
				ID:   "code-reviewer",
				SystemPrompt: "You are the Code Reviewer. Review code for correctness, readability, DRY " +
					"and SOLID adherence, error handling, and test coverage. Classify every comment " +
					"as MUST FIX, SHOULD FIX, CONSIDER, or NICE TO HAVE.",
			},
			{
				Name:    "UX Manager",
				ID:      "ux-manager",
				Profile: "ux",
				SystemPrompt: "You are the UX Manager. Evaluate user flows, copy, accessibility, and " +
					"visual consistency. You may drive a browser against localhost addresses only " +
					"(http://localhost:*, http://127.0.0.1:*) to inspect running interfaces.",
			},
		},
	}
}

// Load reads a YAML config file layered over defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// FromEnv returns the default configuration with environment overrides
// applied, for deployments that run without a config file.
func FromEnv() *Config {
	cfg := DefaultConfig()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "TASKDECK_ADDR")
	setString(&cfg.Auth.Credential, "TASKDECK_API_KEY")
	setString(&cfg.Gateway.BaseURL, "TASKDECK_GATEWAY_URL")
	setString(&cfg.Gateway.Token, "TASKDECK_GATEWAY_TOKEN")
	setString(&cfg.Project.Name, "TASKDECK_PROJECT_NAME")
	setString(&cfg.Project.Company, "TASKDECK_COMPANY_NAME")
	setString(&cfg.Project.Context, "TASKDECK_COMPANY_CONTEXT")
	setString(&cfg.Project.BoardURL, "TASKDECK_BOARD_URL")
	setString(&cfg.DataDir, "TASKDECK_DATA_DIR")
	setString(&cfg.LogLevel, "TASKDECK_LOG_LEVEL")

	if v, ok := os.LookupEnv("TASKDECK_GATEWAY_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Gateway.Enabled = b
		}
	}
	if v, ok := os.LookupEnv("TASKDECK_ALLOWED_PATHS"); ok {
		cfg.Project.AllowedPaths = splitList(v)
	}
	if v, ok := os.LookupEnv("TASKDECK_COMPLIANCE"); ok {
		cfg.Project.Compliance = splitList(v)
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
