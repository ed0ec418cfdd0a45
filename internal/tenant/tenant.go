// Package tenant holds the data model shared by every gateway subsystem:
// configured providers (AI Core tenants), the access tokens the Token
// Manager caches for them, and the deployment snapshots the Model Registry
// publishes.
package tenant

import "time"

// Provider describes one AI Core tenant: a UAA OAuth2 client plus the
// AI Core API endpoint it authenticates against.
type Provider struct {
	Name           string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	APIURL         string
	ResourceGroup  string
	Weight         int
	Enabled        bool
}

// AccessToken is a cached OAuth2 bearer token for one provider.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is unusable at now. The Token Manager
// stores ExpiresAt with its safety skew already subtracted, so callers pass
// the plain current time (see auth.Manager).
func (t AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// ModelDescriptor is one entry of the configured model table: a canonical
// name the gateway accepts from clients, the upstream name to substitute
// when forwarding, and any aliases (including trailing-"*" wildcard
// patterns) that should also resolve to it.
type ModelDescriptor struct {
	Name         string
	UpstreamName string
	Aliases      []string
}

// Deployment is one live AI-Core deployment as reported by a provider's
// `/v2/lm/deployments` listing.
type Deployment struct {
	ID            string
	ModelName     string
	ResourceGroup string
	Status        string
}

// Deployment statuses the Registry treats as usable.
const (
	StatusRunning = "RUNNING"
	StatusReady   = "READY"
)

// Usable reports whether the deployment is in an admissible state for
// traffic.
func (d Deployment) Usable() bool {
	return d.Status == StatusRunning || d.Status == StatusReady
}

// RegistrySnapshot is the atomically-published view of one provider's
// deployments, keyed by upstream model name.
type RegistrySnapshot struct {
	Provider    string
	FetchedAt   time.Time
	Deployments map[string][]Deployment // upstream model name -> usable deployments
}

// DeploymentsFor returns the usable deployments for an upstream model name,
// or nil if none exist in this snapshot.
func (s *RegistrySnapshot) DeploymentsFor(upstreamModel string) []Deployment {
	if s == nil {
		return nil
	}
	return s.Deployments[upstreamModel]
}

// FallbackTable maps a model-name family prefix to the canonical model name
// used when no exact or alias match is found; the Registry looks that name
// up again in the model table to find its upstream name.
type FallbackTable struct {
	Claude string // used for names starting with "claude"
	OpenAI string // used for names starting with "gpt" or "text"
	Gemini string // used for names starting with "gemini"
}
