package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spacecomms/pkg/client"
	"spacecomms/pkg/config"
	"spacecomms/pkg/node"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	nodeAddress string
	apiToken    string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spacecomms",
		Short: "Federated space traffic coordination node",
		Long: `SpaceComms exchanges conjunction data messages, object state and
maneuver intents between operator nodes over a gossip federation.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&nodeAddress, "address", client.DefaultAddress, "node API address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SPACECOMMS_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		startCmd(),
		validateConfigCmd(),
		peerCmd(),
		cdmCmd(),
		objectsCmd(),
		maneuverCmd(),
		statusCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run a node",
		Long:  `Start a node: HTTP API, gossip federation and, when configured, the gRPC listener.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if verbose {
				cfg.Logging.Level = "debug"
			}

			logger, level, err := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := node.New(ctx, cfg, logger, node.Options{ConfigPath: configFile, Level: &level})
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			return n.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")
	return cmd
}

func validateConfigCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Check a config file without starting the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s is valid (node %s, %d peers, %s storage)\n",
				successStyle.Render("✓"), configFile, cfg.Node.ID, len(cfg.Peers), cfg.Storage.Type)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SpaceComms v%s\n", node.Version)
		},
	}
}

func newClient() (*client.Client, error) {
	var opts []client.Option
	if apiToken != "" {
		opts = append(opts, client.WithToken(apiToken))
	}
	return client.New(nodeAddress, opts...)
}

// setupLogger builds the process logger. json selects the production
// encoder; console and pretty the development one.
func setupLogger(level, format string) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console", "pretty":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, zap.AtomicLevel{}, fmt.Errorf("unknown log format %q", format)
	}

	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = lvl

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, lvl, nil
}
