// Package cli implements the gateway's one-shot inspection subcommands:
// `resource-group list` and `deployments list`.
package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/acrgw/aicore-gateway/internal/app"
	"github.com/acrgw/aicore-gateway/internal/config"
)

// ListResourceGroups prints the distinct resource groups across every
// configured provider. Reads config only — no network calls, no App.
func ListResourceGroups(cfg *config.Config) error {
	groups := cfg.ResourceGroups()
	if len(groups) == 0 {
		fmt.Println("no resource groups configured")
		return nil
	}

	sort.Strings(groups)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"RESOURCE GROUP"})
	for _, g := range groups {
		t.AppendRow(table.Row{g})
	}
	t.Render()
	return nil
}

// ListDeployments prints every usable deployment across all configured
// providers, optionally filtered to a single resource group.
func ListDeployments(a *app.App, resourceGroup string) error {
	reg := a.Registry()
	cfg := a.Config()

	type row struct {
		provider string
		id       string
		model    string
		rg       string
	}
	var rows []row

	for _, p := range cfg.TenantProviders() {
		if !p.Enabled {
			continue
		}
		if resourceGroup != "" && p.ResourceGroup != resourceGroup {
			continue
		}
		for _, d := range reg.AllDeployments(p.Name) {
			rows = append(rows, row{provider: p.Name, id: d.ID, model: d.ModelName, rg: d.ResourceGroup})
		}
	}

	if len(rows) == 0 {
		fmt.Println("no deployments found")
		return nil
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].provider != rows[j].provider {
			return rows[i].provider < rows[j].provider
		}
		return rows[i].id < rows[j].id
	})

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"PROVIDER", "DEPLOYMENT ID", "MODEL", "RESOURCE GROUP"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.provider, r.id, r.model, r.rg})
	}
	t.Render()
	return nil
}
