package cmd

import (
	"fmt"
	"os"

	"RadioRoyal/config"
	"RadioRoyal/logger"
	"RadioRoyal/server"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "radioroyal",
	Short: "Radio Royal web-radio studio and relay.",
	Long: `Radio Royal mixes a studio program (music, bed, narration, microphone),
relays it to an RTMP ingest and resolves external sources for playback.
Without a subcommand the relay and resolver server is started.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   cfg.LogCompress,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
