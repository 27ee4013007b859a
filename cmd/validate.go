package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miabbott/git-year-end-report/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without generating a report",
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.InheritedFlags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			errColor.Fprintf(os.Stderr, "Configuration is invalid: %v\n", err)
			os.Exit(1)
		}

		okColor.Println("Configuration is valid")
		fmt.Printf("\nYear: %d\n", cfg.Year)
		fmt.Printf("Forges configured: %d\n", len(cfg.Forges))
		for _, fc := range cfg.Forges {
			fmt.Printf("\n  %s:\n", fc.Name)
			fmt.Printf("    Repositories: %d\n", len(fc.Repos))
			fmt.Printf("    Usernames: %d\n", len(fc.Usernames))
			token := "absent"
			if fc.Token != "" {
				token = "present"
			}
			fmt.Printf("    Token: %s\n", token)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
