// Package main provides the CLI entry point for the avatar server.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/normanking/avatarserver/internal/config"
)

// Version information (set at build time)
var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "avatarserver",
		Short:        "Conversational avatar backend",
		Long:         "Serves the avatar WebSocket and HTTP API: emotion-aware replies with speech and lip-sync cues.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(opts.envFile)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./config.yaml or ~/.avatarserver/config.yaml)")
	pf.StringVar(&opts.envFile, "env", ".env", "dotenv file loaded before the config")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	serveCmd := newServeCmd(opts)
	rootCmd.AddCommand(serveCmd, newConfigCmd(opts), newVersionCmd())

	// Running the binary with no subcommand serves.
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	return rootCmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the avatar server",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.configPath)
			if err := bindServeFlags(loader, cmd.Flags()); err != nil {
				return err
			}

			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}

			return serve(cmd.Context(), loader, cfg)
		},
	}

	cmd.Flags().String("host", "", "listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	return cmd
}

// bindServeFlags lets --host and --port override the config file, but only
// when they are given explicitly.
func bindServeFlags(loader *config.Loader, flags *pflag.FlagSet) error {
	v := loader.Viper()
	for key, name := range map[string]string{"server.host": "host", "server.port": "port"} {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(opts.configPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			out, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}

			w := cmd.OutOrStdout()
			if used := loader.FileUsed(); used != "" {
				fmt.Fprintf(w, "# source: %s\n", used)
			} else {
				fmt.Fprintln(w, "# source: defaults and environment")
			}
			_, err = w.Write(out)
			return err
		},
	}

	configCmd.AddCommand(showCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "avatarserver %s\n", version)
		},
	}
}

// loadEnv reads a dotenv file. A missing file is fine.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
