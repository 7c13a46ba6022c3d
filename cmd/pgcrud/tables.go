package pgcrud

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var tablesCmd = &cobra.Command{
	Use:     "tables",
	Aliases: []string{"t"},
	Short:   "Print the table registry of an environment",
	Long: `Connects to one environment and prints the tables, columns and foreign
keys that serve would register for it.`,
	RunE: runTables,
}

func init() {
	f := tablesCmd.Flags()
	f.StringP("env", "e", "", "environment to inspect (default is the first configured)")
	f.StringP("output", "o", "yaml", "output format (yaml, json)")
}

func runTables(cmd *cobra.Command, args []string) error {
	if cfg == nil {
		return errors.New("configuration not loaded")
	}
	name, _ := cmd.Flags().GetString("env")
	output, _ := cmd.Flags().GetString("output")
	if output != "yaml" && output != "json" {
		return fmt.Errorf("unknown output format %q", output)
	}

	env := cfg.Environments[0]
	if name != "" {
		var ok bool
		if env, ok = cfg.Environment(name); !ok {
			return fmt.Errorf("unknown environment %q", name)
		}
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	pools := pg.NewPoolManager(logger)
	defer pools.Close()
	_, reg, err := connect(cmd.Context(), pools, env, logger.With(zap.String("cmd", "tables")))
	if err != nil {
		return err
	}
	return writeTables(cmd.OutOrStdout(), reg, output)
}

// writeTables prints the registered tables in name order.
func writeTables(w io.Writer, reg *registry.Registry, format string) error {
	tables := make([]*registry.Table, 0, reg.Len())
	for _, name := range reg.Tables() {
		t, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	}

	// round-trip through JSON so YAML keys follow the json tags
	b, err := json.Marshal(tables)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
