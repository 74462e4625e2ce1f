// mactrace - find the switch port behind a MAC address
//
// mactrace logs in to a starting switch, looks the MAC up in its address
// table and follows CDP/LLDP neighbors from device to device until it
// reaches an edge port with no further switch behind it.
//
// Examples:
//
//	mactrace trace 0011.2233.4455 --from 10.0.0.1 --core
//	mactrace trace 00:11:22:33:44:55 --from dist-1 --transport jump
//	mactrace trace 0011.2233.4455 --from 10.0.0.1 --lab testdata/chain.yaml
//	mactrace history 0011.2233.4455
//	mactrace audit --last 24h --failures
//	mactrace creds list
//	mactrace settings set core 10.0.0.1
package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/newtron-network/mactrace/pkg/audit"
	"github.com/newtron-network/mactrace/pkg/cli"
	"github.com/newtron-network/mactrace/pkg/config"
	"github.com/newtron-network/mactrace/pkg/settings"
	"github.com/newtron-network/mactrace/pkg/util"
	"github.com/newtron-network/mactrace/pkg/version"
)

var (
	// Global option flags
	configFile string
	verbose    bool
	logJSON    bool
	noColor    bool

	// Global state
	cfg          *config.Config
	userSettings *settings.Settings
	loader       = config.NewLoader()
)

// exitError carries a process exit code for a failure that was already
// reported on stdout.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "mactrace",
	Short:             "Find the switch port behind a MAC address",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `mactrace follows a MAC address from a starting switch across CDP/LLDP
neighbors to the edge port where the host is connected.

  mactrace trace <mac> --from <device> [--core]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			cli.SetColor(false)
		}

		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}

		cfg, err = loader.Load(configFile)
		if err != nil {
			return err
		}

		// Quiet by default, verbose on -v
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		if err := util.SetLogLevel(level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
		if cfg.Log.JSON {
			util.SetJSONFormat()
		}

		journal, err := audit.Open(cfg.Audit.Path, audit.Options{
			MaxBytes:   int64(cfg.Audit.MaxSizeMB) * 1024 * 1024,
			MaxBackups: cfg.Audit.MaxBackups,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			audit.SetDefaultLogger(journal)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ~/.mactrace/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	mustBind("log.json", rootCmd.PersistentFlags().Lookup("log-json"))

	rootCmd.AddGroup(
		&cobra.Group{ID: "trace", Title: "Tracing:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)
	for _, cmd := range []*cobra.Command{traceCmd, historyCmd, auditCmd} {
		cmd.GroupID = "trace"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{credsCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

// mustBind lets a flag override a config key. Binding errors are
// programming mistakes.
func mustBind(key string, f *pflag.Flag) {
	if err := loader.BindFlag(key, f); err != nil {
		panic(err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mactrace %s\n", version.Info())
	},
}

func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "help", "version":
			return true
		}
	}
	return false
}

// currentUser names the operator in audit events.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
