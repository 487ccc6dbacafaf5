package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tracescan/internal/config"
	"tracescan/internal/report"
)

var (
	configFormat   string
	configShowDiff bool
	configForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage tracescan configuration",
	Long:  "View and manage tracescan configuration stored in .tracescan/config.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults, the config file and
TRACESCAN_* environment overrides have been applied.

Examples:
  tracescan config show              # flattened key: value listing
  tracescan config show --format json
  tracescan config show --diff       # only values that differ from defaults`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configuration compiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		env.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %d namespace(s), %d link phrase(s), strategies %s\n",
			len(env.cfg.Namespaces), len(env.cfg.LinkPhrases), strings.Join(env.cfg.CodeLocation.Strategies, ", "))
		return nil
	},
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (human, json, yaml)")
	configShowCmd.Flags().BoolVar(&configShowDiff, "diff", false, "Only show non-default values")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.Close()

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		return writeEncoded(out, report.EncodeJSON, env.cfg)
	case "yaml":
		return writeEncoded(out, report.EncodeYAML, env.cfg)
	case "human":
		return printConfig(out, env.cfg, config.DefaultConfig(), configShowDiff)
	default:
		return fmt.Errorf("unsupported format: %s", configFormat)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(rootFlag)
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.ConfigDir, "config.json")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(root); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// printConfig lists cfg as sorted dotted keys, annotating values that differ
// from defaults.
func printConfig(w io.Writer, cfg, defaults *config.Config, diffOnly bool) error {
	current, err := flattenConfig(cfg)
	if err != nil {
		return err
	}
	base, err := flattenConfig(defaults)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	shown := 0
	for _, k := range keys {
		def, known := base[k]
		modified := !known || def != current[k]
		if diffOnly && !modified {
			continue
		}
		shown++
		if modified && known {
			fmt.Fprintf(w, "%s: %s (default: %s)\n", k, current[k], def)
		} else {
			fmt.Fprintf(w, "%s: %s\n", k, current[k])
		}
	}
	if diffOnly && shown == 0 {
		fmt.Fprintln(w, "All settings match the defaults.")
	}
	return nil
}

// flattenConfig turns cfg into dotted keys with JSON-encoded leaf values.
// The root is left out since it always differs per project.
func flattenConfig(cfg *config.Config) (map[string]string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	delete(tree, "root")

	out := make(map[string]string)
	flattenInto(out, "", tree)
	return out, nil
}

func flattenInto(out map[string]string, prefix string, v interface{}) {
	if m, ok := v.(map[string]interface{}); ok {
		for k, child := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flattenInto(out, key, child)
		}
		return
	}
	data, _ := json.Marshal(v)
	out[prefix] = string(data)
}
