package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/marimax/cloudanchor/internal/config"
	"github.com/marimax/cloudanchor/internal/logging"

	// Storage backends register themselves on import.
	_ "github.com/marimax/cloudanchor/internal/storage/grpckv"
	_ "github.com/marimax/cloudanchor/internal/storage/httpkv"
	_ "github.com/marimax/cloudanchor/internal/storage/local"
)

var rootCmd = &cobra.Command{
	Use:   "cloudanchor",
	Short: "cloudanchor - short codes for shared cloud anchors",
	Long: `cloudanchor maps long cloud anchor IDs to short numeric codes that are easy to
read aloud and type, backed by a device-local store or a shared store daemon.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync(logger)
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath  string
	logLevel    string
	backendName string
	remoteAddr  string
	remoteRoot  string

	cfg    *config.Config
	logger = logr.Discard()
)

func init() {
	defaultConfig := filepath.Join(config.Dir(), "config.yaml")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "local", "Storage backend: local, http or grpc")
	rootCmd.PersistentFlags().StringVar(&remoteAddr, "addr", "", "Shared store address (overrides remote.addr)")
	rootCmd.PersistentFlags().StringVar(&remoteRoot, "root", "", "Shared key namespace (overrides remote.root)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(anchorCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(auditCmd)
}

// setup loads the config file, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if remoteAddr != "" {
		loaded.Remote.Addr = remoteAddr
	}
	if remoteRoot != "" {
		loaded.Remote.Root = remoteRoot
	}
	switch backendName {
	case "local":
	case "http", "grpc":
		loaded.Remote.Backend = backendName
	default:
		return fmt.Errorf("invalid --backend %q, must be: local, http or grpc", backendName)
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(loaded.Log.Level, loaded.Log.Development)
	if err != nil {
		return err
	}

	cfg = loaded
	logger = log
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
