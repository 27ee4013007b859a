package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/miabbott/git-year-end-report/internal/config"
	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/usecase"
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Enumerate repositories where configured users have been active",
	Long: `Discovers, best effort, the repositories where the configured users
have filed issues, created pull requests, or pushed projects. The output is
formatted as YAML ready to paste into the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		verbose, _ := cmd.InheritedFlags().GetBool("verbose")
		configPath, _ := cmd.InheritedFlags().GetString("config")
		onlyForges, _ := cmd.Flags().GetStringSlice("forge")
		logger := newLogger(verbose)

		cfg, err := config.Load(configPath)
		if err != nil {
			errColor.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		cfg.Forges, err = filterForges(cfg.Forges, onlyForges)
		if err != nil {
			errColor.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		rep := domain.NewReport(cfg.Year, time.Now())

		headerColor.Println("Repository Enumeration")
		fmt.Printf("Year: %d\n", cfg.Year)
		fmt.Printf("Period: %s to %s\n\n", rep.StartDate.Format("2006-01-02"), rep.EndDate.Format("2006-01-02"))

		var targets []usecase.DiscoverTarget
		usernamesByForge := make(map[string][]string)
		for _, fc := range cfg.Forges {
			f, err := buildForge(fc, logger)
			if err != nil {
				warnColor.Printf("Warning: %v, skipping\n", err)
				continue
			}
			targets = append(targets, usecase.DiscoverTarget{Forge: f, Usernames: fc.Usernames})
			usernamesByForge[f.Name()] = fc.Usernames
			fmt.Printf("Enumerating repos for %s...\n", f.Name())
		}

		aggregator := usecase.NewAggregator(0, logger)
		results := aggregator.Discover(ctx, targets, rep.StartDate, rep.EndDate)

		fmt.Println()
		okColor.Println("Discovered Repositories")
		fmt.Println("\nCopy this into your config file:")
		fmt.Println("\n```yaml")
		fmt.Println("forges:")
		for _, target := range targets {
			name := target.Forge.Name()
			repos := results[name]
			if len(repos) == 0 {
				continue
			}
			lower := strings.ToLower(name)
			fmt.Printf("  %s:\n", lower)
			fmt.Printf("    token: ${%s_TOKEN}\n", strings.ToUpper(lower))
			fmt.Println("    usernames:")
			for _, username := range usernamesByForge[name] {
				fmt.Printf("      - %s\n", username)
			}
			fmt.Println("    repos:")
			for _, repo := range repos {
				fmt.Printf("      - %s\n", repo)
			}
		}
		fmt.Println("```")
	},
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
	enumerateCmd.Flags().StringSliceP("forge", "f", nil, "Only enumerate from specified forge(s); may repeat")
}
