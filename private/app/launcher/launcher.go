// Copyright 2020 Anapaya Systems
// Copyright 2024 OVGU Magdeburg
// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package launcher contains the harness shared by riofab binaries: command
// line parsing, configuration loading, logging setup and signal handling.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
	"github.com/openrio/riofab/pkg/private/serrors"
	libconfig "github.com/openrio/riofab/private/config"
)

// Configuration keys read through viper. They mirror the [general] and [log]
// blocks of the application TOML.
const (
	cfgConfigFile                = "config"
	cfgGeneralID                 = "general.id"
	cfgLogConsoleLevel           = "log.console.level"
	cfgLogConsoleFormat          = "log.console.format"
	cfgLogConsoleStacktraceLevel = "log.console.stacktrace_level"
)

var logEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lib_log_emitted_entries_total",
		Help: "Total number of log entries emitted.",
	},
	[]string{"level"},
)

func init() {
	prometheus.MustRegister(logEntriesTotal)
}

// Application models a riofab server application.
type Application struct {
	// TOMLConfig holds the application-specific TOML configuration.
	TOMLConfig libconfig.Config
	// ShortName is the short name of the application. If empty, the
	// executable name is used.
	ShortName string
	// Main is the custom logic of the application. If Main returns an error,
	// Run exits with a non-zero exit code.
	Main func(ctx context.Context) error
	// SubCommands are added to the root command. They can call LoadConfig
	// to initialize the configuration and logging from the --config flag.
	SubCommands []*cobra.Command
	// ErrorWriter specifies where error output should be printed. If nil,
	// os.Stderr is used.
	ErrorWriter io.Writer
	// OutWriter receives regular command output. If nil, os.Stdout is used.
	OutWriter io.Writer

	cmd    *cobra.Command
	config *viper.Viper
}

// Run sets up the common server harness, and then passes control to the Main
// function. Run exits the process if it encounters a fatal error.
func (a *Application) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(a.getErrorWriter(), "fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// Execute runs the application with the given command line arguments.
func (a *Application) Execute(ctx context.Context, args []string) error {
	executable := filepath.Base(os.Args[0])
	shortName := a.getShortName(executable)

	a.cmd = newCommandTemplate(executable, shortName, a.TOMLConfig)
	a.cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return a.executeCommand(cmd.Context(), shortName)
	}
	a.cmd.AddCommand(a.SubCommands...)
	a.cmd.SetArgs(args)
	if a.OutWriter != nil {
		a.cmd.SetOut(a.OutWriter)
	}
	a.config = viper.New()
	a.config.SetDefault(cfgLogConsoleLevel, log.DefaultConsoleLevel)
	a.config.SetDefault(cfgLogConsoleFormat, "human")
	a.config.SetDefault(cfgLogConsoleStacktraceLevel, log.DefaultStacktraceLevel)
	a.config.SetDefault(cfgGeneralID, executable)
	if err := a.config.BindPFlag(cfgConfigFile,
		a.cmd.PersistentFlags().Lookup(cfgConfigFile)); err != nil {
		return err
	}
	return a.cmd.ExecuteContext(ctx)
}

// LoadConfig reads the file given by the --config flag into TOMLConfig,
// initializes logging and validates the configuration.
func (a *Application) LoadConfig() error {
	file := a.config.GetString(cfgConfigFile)
	if file == "" {
		return serrors.New("no config file specified")
	}
	a.config.SetConfigType("toml")
	a.config.SetConfigFile(file)
	if err := a.config.ReadInConfig(); err != nil {
		return serrors.Wrap("loading generic server config from file", err, "file", file)
	}
	if err := libconfig.LoadFile(file, a.TOMLConfig); err != nil {
		return serrors.Wrap("loading config from file", err, "file", file)
	}
	a.TOMLConfig.InitDefaults()

	counter := metrics.NewPromCounter(logEntriesTotal)
	opt := log.WithEntriesCounter(log.EntriesCounter{
		Debug: counter.With("level", "debug"),
		Info:  counter.With("level", "info"),
		Error: counter.With("level", "error"),
	})
	if err := log.Setup(a.getLogging(), opt); err != nil {
		return serrors.Wrap("initialize logging", err)
	}
	if err := a.TOMLConfig.Validate(); err != nil {
		return serrors.Wrap("validate config", err)
	}
	return nil
}

func (a *Application) executeCommand(ctx context.Context, shortName string) error {
	if err := a.LoadConfig(); err != nil {
		return err
	}
	defer log.Flush()
	defer log.HandlePanic()

	id := a.config.GetString(cfgGeneralID)
	logger := log.New("app", shortName, "id", id)
	if digest, err := libconfig.Digest(a.TOMLConfig); err == nil {
		logger.Info("Service started", "config_digest", fmt.Sprintf("%x", digest[:8]))
	}
	defer logger.Info("Service stopped")

	if a.Main == nil {
		return nil
	}
	return a.Main(log.CtxWith(ctx, logger))
}

func (a *Application) getLogging() log.Config {
	return log.Config{
		Console: log.ConsoleConfig{
			Level:           a.config.GetString(cfgLogConsoleLevel),
			Format:          a.config.GetString(cfgLogConsoleFormat),
			StacktraceLevel: a.config.GetString(cfgLogConsoleStacktraceLevel),
		},
	}
}

func (a *Application) getShortName(executable string) string {
	if a.ShortName != "" {
		return a.ShortName
	}
	return executable
}

func (a *Application) getErrorWriter() io.Writer {
	if a.ErrorWriter != nil {
		return a.ErrorWriter
	}
	return os.Stderr
}

func newCommandTemplate(executable, shortName string, config libconfig.Sampler) *cobra.Command {
	cmd := &cobra.Command{
		Use:           executable,
		Short:         shortName,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().String(cfgConfigFile, "", "Configuration file (required)")

	sample := &cobra.Command{
		Use:   "sample",
		Short: "Display sample files",
	}
	sample.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Display a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			libconfig.WriteSample(cmd.OutOrStdout(), nil,
				libconfig.CtxMap{"executable": executable}, config)
			return nil
		},
	})
	cmd.AddCommand(sample)
	return cmd
}
