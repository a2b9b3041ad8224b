package main

import (
	"encoding/json"
	"fmt"

	"github.com/deepctl/deep/internal/addon"
	"github.com/deepctl/deep/internal/config"
	"github.com/deepctl/deep/internal/errs"
	"github.com/spf13/cobra"
)

var addonsCmd = &cobra.Command{
	Use:     "addons",
	Aliases: []string{"ad"},
	Short:   "Manage addon services",
}

var addonsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured addons",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")
		entries, err := addon.ListConfigs(configDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no addons found")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %s  %s\n", e.Name, e.Kind, e.Image)
		}
		return nil
	},
}

var addonsCreateCmd = &cobra.Command{
	Use:     "create <kind> <name>",
	Aliases: []string{"a"},
	Args:    cobra.ExactArgs(2),
	Short:   "Create an addon",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, name := args[0], args[1]
		configDir, _ := cmd.Flags().GetString("config-dir")
		cfg, err := addonConfigFromFlags(cmd)
		if err != nil {
			return err
		}

		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()

		row, err := addon.Create(cmd.Context(), cat, configDir, kind, name, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("created addon %s (%s)\n", row.Name, row.ID)
		return nil
	},
}

var addonsDestroyCmd = &cobra.Command{
	Use:     "destroy <name>",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	Short:   "Destroy an addon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := addon.Destroy(cmd.Context(), cat, configDir, args[0]); err != nil {
			return err
		}
		fmt.Printf("destroyed addon %s\n", args[0])
		return nil
	},
}

func addonActionCmd(use, alias, action string) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <name>",
		Aliases: []string{alias},
		Args:    cobra.ExactArgs(1),
		Short:   action + " an addon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := addon.Action(cmd.Context(), args[0], action); err != nil {
				return err
			}
			fmt.Printf("%s addon %s\n", action, args[0])
			return nil
		},
	}
}

var addonsStartCmd = addonActionCmd("start", "st", "start")
var addonsStopCmd = addonActionCmd("stop", "sp", "stop")
var addonsRestartCmd = addonActionCmd("restart", "rs", "restart")

var addonsBindCmd = &cobra.Command{
	Use:     "bind <addon> <app>",
	Aliases: []string{"b"},
	Args:    cobra.ExactArgs(2),
	Short:   "Bind an addon to an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := addon.Bind(cmd.Context(), cat, configDir, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("bound addon %s to app %s\n", args[0], args[1])
		return nil
	},
}

var addonsUnbindCmd = &cobra.Command{
	Use:     "unbind <addon> <app>",
	Aliases: []string{"ub"},
	Args:    cobra.ExactArgs(2),
	Short:   "Unbind an addon from an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := openCatalog(cmd)
		if err != nil {
			return err
		}
		defer cat.Close()
		if err := addon.Unbind(cmd.Context(), cat, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("unbound addon %s from app %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{addonsCreateCmd, addonsDestroyCmd, addonsBindCmd, addonsUnbindCmd} {
		dbFlag(c)
	}
	addonsCreateCmd.Flags().StringP("config-json", "j", "{}", "Addon config as inline JSON")
	addonsCreateCmd.Flags().StringP("config", "c", "", "Addon config TOML file path")
	addonsCreateCmd.Flags().StringP("config-dir", "C", addon.DefaultConfigDir, "Directory for addon config files")
	addonsDestroyCmd.Flags().StringP("config-dir", "C", addon.DefaultConfigDir, "Directory for addon config files")
	addonsListCmd.Flags().StringP("config-dir", "C", addon.DefaultConfigDir, "Directory for addon config files")
	addonsBindCmd.Flags().StringP("config-dir", "C", addon.DefaultConfigDir, "Directory for addon config files")

	addonsCmd.AddCommand(addonsListCmd, addonsCreateCmd, addonsDestroyCmd,
		addonsStartCmd, addonsStopCmd, addonsRestartCmd, addonsBindCmd, addonsUnbindCmd)
}

func addonConfigFromFlags(cmd *cobra.Command) (config.AddonConfigFile, error) {
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		return config.LoadAddonConfig(configFile)
	}
	configJSON, _ := cmd.Flags().GetString("config-json")
	var cfg config.AddonConfigFile
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return config.AddonConfigFile{}, errs.Validation("cli", "invalid --config-json", err)
	}
	return cfg, nil
}
