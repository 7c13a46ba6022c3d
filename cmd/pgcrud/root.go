package pgcrud

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var cfg *config.Config
var rootCmd = &cobra.Command{
	Use:   "pgcrud",
	Short: "pgcrud serves PostgreSQL tables over a CRUD REST API",
	Long: `pgcrud exposes the tables of one or more PostgreSQL databases as
list, get, create, update and delete endpoints, one route prefix per
environment, with optional change events for every committed write.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgcrud.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tablesCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: development output in debug mode,
// JSON at the configured level otherwise.
func newLogger(c *config.Config) (*zap.Logger, error) {
	if c.Log.Level == "none" {
		return zap.NewNop(), nil
	}
	if c.Server.Debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}
