// Package config handles YAML configuration loading with environment
// variable expansion, mirroring the teacher's config package but shaped for
// the routecodex gateway's provider/route/auth surface.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration. The pipeline receives this
// fully resolved -- no stage re-reads environment variables or files.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Providers []ProviderEntry  `yaml:"providers"`
	Routes    []RouteEntry     `yaml:"routes"`
	OAuth     []OAuthClient    `yaml:"oauth_clients"`
	Health    HealthConfig     `yaml:"health"`
}

// ServerConfig holds HTTP ingress settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminAddr       string        `yaml:"admin_addr"` // localhost-only /config /status /shutdown
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// HealthConfig controls the provider-error ledger.
type HealthConfig struct {
	DSN             string        `yaml:"dsn"` // sqlite file path or ":memory:"
	PoisonThreshold int           `yaml:"poison_threshold"`
	PoisonWindow    time.Duration `yaml:"poison_window"`
}

// ProviderEntry is a provider definition in the config file. Each route
// target naming this entry resolves to one ProviderHandle, whose credential
// is taken round-robin from Credentials (or Auth when Credentials is
// empty). Models is only logged at startup; it does not add pool members.
type ProviderEntry struct {
	Name              string            `yaml:"name"`
	Family            string            `yaml:"family"` // openai, anthropic, qwen, iflow, lmstudio, gemini, antigravity, custom
	BaseURL           string            `yaml:"base_url"`
	BaseURLCandidates []string          `yaml:"base_url_candidates"` // extra fallback URLs, tried in order (e.g. antigravity sandbox/daily)
	Models            []string          `yaml:"models"`
	ModelAliases      map[string]string `yaml:"model_aliases"` // client-facing id -> upstream id substitution
	Priority          int               `yaml:"priority"`
	Weight            int               `yaml:"weight"`
	Enabled           *bool             `yaml:"enabled"`
	TimeoutMs         int               `yaml:"timeout_ms"`
	MaxTokensClamp    int               `yaml:"max_tokens_clamp"` // 0 = no clamp beyond family defaults
	StreamPreference  string            `yaml:"stream_preference"` // auto|always|never, "" = auto
	Auth              AuthEntry         `yaml:"auth"`
	Credentials       []CredentialEntry `yaml:"credentials"` // round-robin pool; falls back to Auth when empty
}

// AuthEntry configures one provider's default authentication.
type AuthEntry struct {
	Type         string `yaml:"type"`          // apikey, bearer, basic, oauth
	HeaderName   string `yaml:"header_name"`   // e.g. x-goog-api-key; default Authorization
	Prefix       string `yaml:"prefix"`        // e.g. "Bearer "
	Key          string `yaml:"key"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CredentialID string `yaml:"credential_id"` // oauth: key into the token store
}

// CredentialEntry is one member of a provider's credential rotation pool.
type CredentialEntry struct {
	Auth AuthEntry `yaml:"auth"`
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RouteEntry maps a model alias to an ordered pool of provider targets, the
// input to the Virtual Router's classifier.
type RouteEntry struct {
	ModelAlias string        `yaml:"model_alias"`
	Rule       string        `yaml:"rule"` // classifier rule name, reported on the RoutingDecision; an empty ModelAlias marks the catch-all route
	Targets    []TargetEntry `yaml:"targets"`
}

// TargetEntry is a single target within a route.
type TargetEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Priority int    `yaml:"priority"`
	Weight   int    `yaml:"weight"`
}

// OAuthClient configures one device-code or authorization-code+PKCE client
// used by the oauth credential subsystem.
type OAuthClient struct {
	ID                 string `yaml:"id"` // matches CredentialEntry.Auth.CredentialID
	Provider           string `yaml:"provider"` // qwen, iflow -- selects refresh-retry policy
	Flow               string `yaml:"flow"` // "device_code" or "authcode_pkce"
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	DeviceAuthURL      string `yaml:"device_auth_url"`
	TokenURL           string `yaml:"token_url"`
	AuthorizeURL       string `yaml:"authorize_url"` // authcode_pkce only
	UserInfoURL        string `yaml:"user_info_url"` // qwen-style post-activation apiKey exchange
	Scope              string `yaml:"scope"`
	RedirectPort       int    `yaml:"redirect_port"` // authcode_pkce localhost listener, default 8080
	TokenFilePath      string `yaml:"token_file_path"`
	RequiresClientQwen bool   `yaml:"requires_client_qwen"` // qwen-specific client=qwen-code requirement
	IFlowRedirectQuirk bool   `yaml:"iflow_redirect_quirk"` // iflow web-style redirect= param
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables
// and applying defaults before unmarshal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AdminAddr:       "127.0.0.1:8081",
		},
		Health: HealthConfig{
			DSN:             "routecodex-health.db",
			PoisonThreshold: 3,
			PoisonWindow:    time.Minute,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
