package main

import (
	"fmt"

	"github.com/nadmax/autocourse/internal/config"
	"github.com/nadmax/autocourse/internal/logger"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand once the root pre-run has loaded it.
type app struct {
	cfg config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		logMode    string
		redisAddr  string
		courseFile string
	)

	root := &cobra.Command{
		Use:           "autocourse",
		Short:         "Complete course items in batches and track their progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = config.Load()
			if cmd.Flags().Changed("log-mode") {
				a.cfg.LogMode = logMode
			}
			if cmd.Flags().Changed("redis") {
				a.cfg.RedisAddr = redisAddr
			}
			if cmd.Flags().Changed("course-file") {
				a.cfg.CourseFile = courseFile
			}

			log, err := logger.New(a.cfg.LogMode)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&logMode, "log-mode", "dev", "logger mode (dev or prod)")
	root.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address for the task mirror (overrides REDIS_ADDR)")
	root.PersistentFlags().StringVar(&courseFile, "course-file", "", "course JSON export served by the dry-run platform")

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newStatusCmd(a),
		newReportCmd(a),
	)

	return root
}
