package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zsiec/reel/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "reel",
		Short:         "Play local files and SRT streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default: ./config.yaml, $HOME/.reel, /etc/reel)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().Bool("captions", false, "declare the CEA-608 caption stream of MPEG-TS video up front")
	root.PersistentFlags().Duration("srt-latency", 120*time.Millisecond, "SRT receive latency")
	bindFlags(v, root, map[string]string{
		config.KeyLogLevel:   "log-level",
		config.KeyCaptions:   "captions",
		config.KeySRTLatency: "srt-latency",
	})

	root.AddCommand(newPlayCommand(v))
	root.AddCommand(newProbeCommand(v))
	root.AddCommand(newVersionCommand())
	return root
}

// bindFlags lets flags override config keys. An unknown flag name is a
// programming error.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(fmt.Sprintf("bind %s: %v", name, err))
		}
	}
}

// loadConfig resolves configuration for cmd and installs the default
// logger at the configured level.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reel %s\n", version)
		},
	}
}
