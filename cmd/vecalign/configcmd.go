package main

import (
	"fmt"

	"github.com/liliang-cn/vecalign/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration (file, environment and flags merged) as YAML",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Save(path, appCfg); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSaveCmd)
	addDataFlags(configSaveCmd.Flags())
	addAlignFlags(configSaveCmd.Flags())
}
