package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scmhooks/hookengine/internal/adapter/outbound/memory"
	"github.com/scmhooks/hookengine/internal/config"
	"github.com/scmhooks/hookengine/internal/service"
)

var validateShowEffective bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without starting the server",
	Long: `Validate loads the configuration, runs struct and cross-field checks,
and compiles every configured rule (including CEL expression parsing) so a
bad rule body is caught before the server ever binds a port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		cfg.SetDefaults()

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validate: config invalid: %w", err)
		}

		contentStore := memory.NewFileContentStore()
		for _, rc := range cfg.Rules {
			kind, hookCfg := ruleConfigToHook(rc)
			if _, err := service.LoadRule(rc.Name, kind, hookCfg, contentStore); err != nil {
				return fmt.Errorf("validate: rule %q: %w", rc.Name, err)
			}
		}

		fmt.Printf("config OK: %d rule(s), %d binding(s)\n", len(cfg.Rules), len(cfg.Bindings))
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Printf("config file: %s\n", used)
		}

		if validateShowEffective {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("validate: marshal effective config: %w", err)
			}
			fmt.Println("---")
			fmt.Print(string(out))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateShowEffective, "show", false, "print the effective config (after defaults) as YAML")
	rootCmd.AddCommand(validateCmd)
}
