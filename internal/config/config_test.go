package config

import (
	"testing"

	"github.com/spf13/viper"
)

func newViperWithEnv(env map[string]string) *viper.Viper {
	v := viper.New()
	for k, val := range env {
		v.Set(k, val)
	}
	return v
}

func TestNormalizeTokenURL(t *testing.T) {
	cases := map[string]string{
		"https://uaa.example.com":              "https://uaa.example.com/oauth/token",
		"https://uaa.example.com/":             "https://uaa.example.com/oauth/token",
		"https://uaa.example.com/oauth/token":  "https://uaa.example.com/oauth/token",
		"https://uaa.example.com/oauth/token/": "https://uaa.example.com/oauth/token/",
		"": "",
	}
	for in, want := range cases {
		if got := normalizeTokenURL(in); got != want {
			t.Errorf("normalizeTokenURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTokenURL_Idempotent(t *testing.T) {
	once := normalizeTokenURL("https://uaa.example.com")
	twice := normalizeTokenURL(once)
	if once != twice {
		t.Fatalf("normalization not idempotent: %q vs %q", once, twice)
	}
}

func TestMergeAPIKeys_DedupesOrderPreserving(t *testing.T) {
	v := newViperWithEnv(map[string]string{
		"API_KEY":  "key-1",
		"API_KEYS": "key-2, key-1, key-3",
	})
	got := mergeAPIKeys(v, []string{"key-3", "key-4"})
	want := []string{"key-1", "key-2", "key-3", "key-4"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	c := &Config{Strategy: "round_robin", Providers: []ProviderConfig{{Name: "p1"}}}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for empty API key list")
	}
}

func TestValidate_RequiresEnabledProvider(t *testing.T) {
	disabled := false
	c := &Config{
		Strategy:  "round_robin",
		APIKeys:   []string{"k"},
		Providers: []ProviderConfig{{Name: "p1", Enabled: &disabled}},
	}
	if err := c.validate(); err == nil {
		t.Fatal("expected error when every provider is disabled")
	}
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	c := &Config{Strategy: "weighted", APIKeys: []string{"k"}, Providers: []ProviderConfig{{Name: "p1"}}}
	if err := c.validate(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestResourceGroups_DedupedFirstSeenOrder(t *testing.T) {
	c := &Config{Providers: []ProviderConfig{
		{Name: "a", ResourceGroup: "rg1"},
		{Name: "b", ResourceGroup: "rg2"},
		{Name: "c", ResourceGroup: "rg1"},
	}}
	got := c.ResourceGroups()
	want := []string{"rg1", "rg2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
