package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/miabbott/git-year-end-report/internal/config"
	"github.com/miabbott/git-year-end-report/internal/forge"
	"github.com/miabbott/git-year-end-report/internal/forge/github"
	"github.com/miabbott/git-year-end-report/internal/forge/gitlab"
	"github.com/miabbott/git-year-end-report/internal/forge/pagure"
)

// buildForge constructs the adapter matching a configured forge name.
func buildForge(fc config.ForgeConfig, logger zerolog.Logger) (forge.Forge, error) {
	switch strings.ToLower(fc.Name) {
	case "github":
		return github.New(fc.Token, fc.Endpoint, logger)
	case "gitlab":
		return gitlab.New(fc.Token, fc.Endpoint, logger), nil
	case "pagure":
		return pagure.New(fc.Token, fc.Endpoint, logger), nil
	default:
		return nil, fmt.Errorf("unknown forge %q", fc.Name)
	}
}

// filterForges narrows the configured forges to the names given on the
// command line. An empty filter keeps everything.
func filterForges(forges []config.ForgeConfig, only []string) ([]config.ForgeConfig, error) {
	if len(only) == 0 {
		return forges, nil
	}
	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[strings.ToLower(name)] = true
	}
	var filtered []config.ForgeConfig
	for _, fc := range forges {
		if wanted[strings.ToLower(fc.Name)] {
			filtered = append(filtered, fc)
		}
	}
	if len(filtered) == 0 {
		return nil, fmt.Errorf("none of the specified forges (%s) are configured", strings.Join(only, ", "))
	}
	return filtered, nil
}
