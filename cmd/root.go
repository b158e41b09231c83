package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/siphon/internal/config"
	"github.com/tanq16/siphon/internal/utils"
)

var (
	configPath string
	debug      bool
	userAgent  string
	proxyURL   string
	headers    []string
	timeout    time.Duration
	rootDir    string

	cfg *config.Config
	v   = viper.New()
)

var SiphonVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "siphon",
	Short:   "Siphon finds the media behind a page and saves it",
	Version: SiphonVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		bindings := map[string]string{
			"user-agent": "http.user_agent",
			"proxy":      "http.proxy",
			"header":     "http.headers",
			"timeout":    "http.timeout",
			"root":       "root",
		}
		for flag, key := range bindings {
			if f := flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		loaded, err := config.LoadWith(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		utils.InitLogger(debug)
		if !debug {
			utils.SetLogLevel(cfg.Log.Level)
		}
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file (default ./siphon.yaml when present)")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringVarP(&userAgent, "user-agent", "a", "", "User agent (\"randomize\" picks one per run)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (user:pass@host:port accepted)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Referer: https://example.com'); can be specified multiple times")
	pf.DurationVarP(&timeout, "timeout", "t", 0, "Client timeout (eg. 30s, 5m); zero relies on cancellation")
	pf.StringVarP(&rootDir, "root", "r", "", "Directory or s3://bucket/prefix to save into when none is set yet")

	rootCmd.AddCommand(
		newGetCmd(),
		newBatchCmd(),
		newServeCmd(),
		newWatchCmd(),
		newListCmd(),
		newRetryCmd(),
		newCancelCmd(),
		newDeleteCmd(),
		newRootCmd(),
		newQuotaCmd(),
		newCleanCmd(),
	)
}
