// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siemens/blackdig/config"
	"github.com/siemens/blackdig/flagger"

	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newRootCmd() (rootCmd *cobra.Command) {
	rootCmd = &cobra.Command{
		Use:   "blackdig [flags]",
		Short: "blackdig flags blacklisted addresses seen in a packet capture and logs their geolocation",
		Long: `blackdig reads a packet capture, flags all source and destination addresses
found on a blacklist, looks up the geolocation of each flagged address, and
writes the results to an audit log with one JSON record per line.

Settings can also be passed in environment variables prefixed with
"` + config.EnvPrefix + `_", or in a YAML configuration file; flags take precedence.`,
		Version: "0.9",
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if interval, _ := cmd.Flags().GetDuration("spinner"); interval < 10*time.Millisecond {
				return fmt.Errorf("--spinner must be at least 10ms")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			flags := cmd.Flags()
			configFile, _ := flags.GetString("config")
			v, err := config.New(flags)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return &flagger.ConfigurationError{Resource: "configuration", Path: configFile, Err: err}
			}

			level, _ := flags.GetString("log-level")
			format, _ := flags.GetString("log-format")
			if debug, _ := flags.GetBool("debug"); debug {
				level = "debug"
			}
			logger, err := newLogger(cmd.ErrOrStderr(), level, format)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Sugar().With("run", uuid.NewString())
			log.Debugw("debug logging enabled")

			w := cmd.OutOrStdout()
			disp := display{profile: termenv.NewOutput(w).Profile}
			disp.spinner, _ = flags.GetDuration("spinner")
			disp.progress = disp.profile != termenv.Ascii
			if flags.Changed("progress") {
				disp.progress, _ = flags.GetBool("progress")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return FlagAndReport(ctx, w, cfg, log, disp)
		},
	}
	// Sets up the flags.
	flags := rootCmd.PersistentFlags()
	config.RegisterFlags(flags)
	flags.String("config", "", "YAML configuration `file`")
	flags.String("log-level", "info", "log level, one of \"debug\", \"info\", \"warn\", \"error\"")
	flags.String("log-format", "console", "log format, either \"console\" or \"json\"")
	flags.Bool("debug", false, "enable debugging output")
	flags.Bool("progress", false, "render live progress (default when writing to a terminal)")
	flags.Duration("spinner", 100*time.Millisecond, "spinner interval")
	return
}

// newLogger returns a production logger writing to w in the specified format
// and at the specified minimum level.
func newLogger(w io.Writer, level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	enccfg := zap.NewProductionEncoderConfig()
	enccfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch format {
	case "console":
		enc = zapcore.NewConsoleEncoder(enccfg)
	case "json":
		enc = zapcore.NewJSONEncoder(enccfg)
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
	sink := zapcore.Lock(zapcore.AddSync(w))
	return zap.New(zapcore.NewCore(enc, sink, lvl), zap.ErrorOutput(sink)), nil
}
