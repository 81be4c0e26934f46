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

package log

import (
	"io"

	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/private/config"
)

const (
	// DefaultConsoleLevel is the default log level for the console.
	DefaultConsoleLevel = "info"
	// DefaultStacktraceLevel is the default level from which on stack traces
	// are attached.
	DefaultStacktraceLevel = "error"
)

// Config is the configuration for the logger.
type Config struct {
	// Console is the configuration for the console logging.
	Console ConsoleConfig `toml:"console,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values (if they
// have one).
func (c *Config) InitDefaults() {
	c.Console.InitDefaults()
}

// Validate checks the console settings.
func (c *Config) Validate() error {
	return c.Console.Validate()
}

// Sample writes the sample configuration to the dst writer.
func (c *Config) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteSample(dst, path, ctx, &c.Console)
}

// ConfigName returns the name of this config.
func (c *Config) ConfigName() string {
	return "log"
}

// ConsoleConfig is the config for the console logger.
type ConsoleConfig struct {
	// Level of console logging (debug|info|error).
	Level string `toml:"level,omitempty"`
	// Format of the console logging (human|json).
	Format string `toml:"format,omitempty"`
	// StacktraceLevel sets from which level stacktraces are printed.
	StacktraceLevel string `toml:"stacktrace_level,omitempty"`
}

// InitDefaults populates unset fields in cfg to their default values (if they
// have one).
func (c *ConsoleConfig) InitDefaults() {
	if c.Level == "" {
		c.Level = DefaultConsoleLevel
	}
	if c.Format == "" {
		c.Format = "human"
	}
	if c.StacktraceLevel == "" {
		c.StacktraceLevel = DefaultStacktraceLevel
	}
}

// Validate checks that the level and format are known.
func (c *ConsoleConfig) Validate() error {
	for _, l := range []string{c.Level, c.StacktraceLevel} {
		if _, err := parseLevel(l); err != nil {
			return err
		}
	}
	if c.Format != "human" && c.Format != "json" {
		return serrors.New("unsupported console format", "format", c.Format)
	}
	return nil
}

// Sample writes the sample configuration to the dst writer.
func (c *ConsoleConfig) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, consoleSample)
}

// ConfigName returns the name of this config.
func (c *ConsoleConfig) ConfigName() string {
	return "console"
}

const consoleSample = `
# Console logging level (debug|info|error). (default info)
level = "info"

# Console logging format (human|json). (default human)
format = "human"

# Level from which on stack traces are attached (debug|info|error). (default error)
stacktrace_level = "error"
`
