package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clausecheck/internal/catalog"
	"clausecheck/internal/config"
	"clausecheck/internal/types"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Provision catalog utilities",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a provision catalog file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			path = cfg.Catalog.Path
		}

		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}

		counts := cat.CountByPriority()
		fmt.Printf("catalog %s is valid\n", path)
		fmt.Printf("  version:    %s\n", cat.Version)
		fmt.Printf("  provisions: %d\n", cat.Len())
		for _, tier := range types.PriorityOrder {
			fmt.Printf("  %-10s %d\n", string(tier)+":", counts[tier])
		}
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
}
