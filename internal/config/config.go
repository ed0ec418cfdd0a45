// Package config loads the gateway's configuration from a YAML file
// overlaid with environment variables, following the same viper + gotenv
// pattern the rest of this codebase's ancestry uses for config loading.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/acrgw/aicore-gateway/internal/tenant"
)

// ProviderConfig is one configured AI Core tenant.
type ProviderConfig struct {
	Name          string `mapstructure:"name"`
	TokenURL      string `mapstructure:"token_url"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	APIURL        string `mapstructure:"api_url"`
	ResourceGroup string `mapstructure:"resource_group"`
	Weight        int    `mapstructure:"weight"`
	Enabled       *bool  `mapstructure:"enabled"`
}

// ModelConfig is one entry of the configured model table.
type ModelConfig struct {
	Name         string   `mapstructure:"name"`
	UpstreamName string   `mapstructure:"upstream_name"`
	Aliases      []string `mapstructure:"aliases"`
}

// FallbackConfig is the one-hop family-fallback table.
type FallbackConfig struct {
	Claude string `mapstructure:"claude"`
	OpenAI string `mapstructure:"openai"`
	Gemini string `mapstructure:"gemini"`
}

// RateLimitConfig configures the optional Redis-backed RPM limiter that
// gates dispatch ahead of provider selection. Disabled unless Enabled is
// true and RedisAddr is set.
type RateLimitConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RedisAddr string `mapstructure:"redis_addr"`
	RPM       int    `mapstructure:"rpm"`
}

// Config is the fully-resolved gateway configuration.
type Config struct {
	Providers           []ProviderConfig `mapstructure:"providers"`
	APIKeys             []string         `mapstructure:"api_keys"`
	Models              []ModelConfig    `mapstructure:"models"`
	FallbackModels      FallbackConfig   `mapstructure:"fallback_models"`
	RefreshIntervalSecs int              `mapstructure:"refresh_interval_secs"`
	Strategy            string           `mapstructure:"strategy"`
	Port                int              `mapstructure:"port"`
	LogLevel            string           `mapstructure:"log_level"`
	RequestBodyLimit    int              `mapstructure:"request_body_limit"`
	CORSOrigins         []string         `mapstructure:"cors_origins"`
	RateLimit           RateLimitConfig  `mapstructure:"rate_limit"`
}

// DefaultPort is the gateway's default bind port when unset in config.
const DefaultPort = 8900

// Load reads config.yaml from the working directory (or explicitPath, if
// given), overlays a .env file if present, then overlays scalar
// environment variables, and finally validates the result.
func Load(explicitPath string) (*Config, error) {
	gotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("refresh_interval_secs", 300)
	v.SetDefault("strategy", "round_robin")
	v.SetDefault("request_body_limit", 0)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.APIKeys = mergeAPIKeys(v, cfg.APIKeys)

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.TokenURL = normalizeTokenURL(p.TokenURL)
		if p.Weight < 1 {
			p.Weight = 1
		}
		if p.Enabled == nil {
			enabled := true
			p.Enabled = &enabled
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// mergeAPIKeys builds the final API-key list from, in precedence order:
// the API_KEY env var (single, legacy), the API_KEYS env var
// (comma-separated), then the file's api_keys list — de-duplicated,
// keeping each key at its first-seen position.
func mergeAPIKeys(v *viper.Viper, fromFile []string) []string {
	var ordered []string
	if single := v.GetString("API_KEY"); single != "" {
		ordered = append(ordered, single)
	}
	if list := v.GetString("API_KEYS"); list != "" {
		for _, k := range strings.Split(list, ",") {
			k = strings.TrimSpace(k)
			if k != "" {
				ordered = append(ordered, k)
			}
		}
	}
	ordered = append(ordered, fromFile...)

	seen := make(map[string]bool, len(ordered))
	deduped := make([]string, 0, len(ordered))
	for _, k := range ordered {
		if seen[k] {
			continue
		}
		seen[k] = true
		deduped = append(deduped, k)
	}
	return deduped
}

// normalizeTokenURL appends "/oauth/token" to a bare UAA base URL, unless
// the URL already names that path. Applying it twice is a no-op.
func normalizeTokenURL(url string) string {
	if url == "" {
		return url
	}
	if strings.Contains(url, "/oauth/token") {
		return url
	}
	if strings.HasSuffix(url, "/") {
		return url + "oauth/token"
	}
	return url + "/oauth/token"
}

func (c *Config) validate() error {
	if len(c.APIKeys) == 0 {
		return fmt.Errorf("config: at least one API key is required (set via API_KEY/API_KEYS env var or api_keys in config file)")
	}
	anyEnabled := false
	for _, p := range c.Providers {
		if p.Enabled == nil || *p.Enabled {
			anyEnabled = true
		}
		if p.Name == "" {
			return fmt.Errorf("config: provider entries require a name")
		}
	}
	if !anyEnabled {
		return fmt.Errorf("config: at least one enabled provider is required")
	}
	switch c.Strategy {
	case "round_robin", "fallback":
	default:
		return fmt.Errorf("config: unknown strategy %q (expected round_robin or fallback)", c.Strategy)
	}
	return nil
}

// TenantProviders converts the configured provider list into
// tenant.Provider values for the auth/registry/balancer subsystems.
func (c *Config) TenantProviders() []tenant.Provider {
	out := make([]tenant.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		enabled := p.Enabled == nil || *p.Enabled
		out = append(out, tenant.Provider{
			Name:          p.Name,
			TokenURL:      p.TokenURL,
			ClientID:      p.ClientID,
			ClientSecret:  p.ClientSecret,
			APIURL:        p.APIURL,
			ResourceGroup: p.ResourceGroup,
			Weight:        p.Weight,
			Enabled:       enabled,
		})
	}
	return out
}

// TenantModels converts the configured model table into
// tenant.ModelDescriptor values for the Model Registry.
func (c *Config) TenantModels() []tenant.ModelDescriptor {
	out := make([]tenant.ModelDescriptor, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, tenant.ModelDescriptor{Name: m.Name, UpstreamName: m.UpstreamName, Aliases: m.Aliases})
	}
	return out
}

// FallbackTable converts the configured fallback table.
func (c *Config) FallbackTable() tenant.FallbackTable {
	return tenant.FallbackTable{Claude: c.FallbackModels.Claude, OpenAI: c.FallbackModels.OpenAI, Gemini: c.FallbackModels.Gemini}
}

// ResourceGroups returns the distinct resource groups across all
// configured providers, in first-seen order — used by the CLI's
// `resource-group list` subcommand, which must work without starting the
// server.
func (c *Config) ResourceGroups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Providers {
		if p.ResourceGroup == "" || seen[p.ResourceGroup] {
			continue
		}
		seen[p.ResourceGroup] = true
		out = append(out, p.ResourceGroup)
	}
	return out
}
