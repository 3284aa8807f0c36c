package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jbweber/yolocloud/internal/config"
	"github.com/jbweber/yolocloud/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	err := rootCmd.Execute()
	_ = logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "yolocloud",
	Short: "yolocloud - token-gated libvirt VM provisioning",
	Long: `yolocloud turns redeemable access tokens into libvirt virtual machines.

Tokens are created with create-token and redeemed with create-vm. Lifecycle
operations (start, shutdown, media changes, deletion) run asynchronously as
tasks, either in-process ("broker: local") or on yolocloud workers consuming
a NATS JetStream queue.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd.Flags()); err != nil {
			return err
		}

		loaded, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		if err := logging.InitLogger(cfg.LogLevel); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
}

// flagKeys maps persistent flag names to configuration keys.
var flagKeys = map[string]string{
	"database":      "database",
	"broker":        "broker",
	"log-level":     "log_level",
	"require-token": "require_token",
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default /etc/yolocloud/config.yaml or ~/.config/yolocloud/config.yaml)")
	flags.String("database", "", "badger database directory")
	flags.String("broker", "", `task broker: "local" or a NATS URL`)
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("require-token", false, "reject VM creation without a valid token")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(createTokenCmd)
	rootCmd.AddCommand(createVMCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(changeMediaCmd)
	rootCmd.AddCommand(ejectCmd)
	rootCmd.AddCommand(deleteVMCmd)
	rootCmd.AddCommand(testConnCmd)
}

// bindFlags binds flags that map to configuration keys, so a flag given on
// the command line overrides the file and environment.
func bindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key, ok = commandFlagKeys[f.Name]
		}
		if !ok || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("failed to bind flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// commandFlagKeys maps subcommand flag names to configuration keys.
var commandFlagKeys = map[string]string{
	"workers":      "workers",
	"metrics-addr": "metrics_addr",
}
