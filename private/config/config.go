// Copyright 2019 Anapaya Systems
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

// Package config provides the pattern shared by all configuration structs.
//
// Every configuration struct implements the Config interface, which covers
// three concerns:
//
//   - InitDefaults recursively initializes all unset fields.
//   - Validate recursively checks all fields.
//   - Sample writes a commented TOML sample of the block.
//
// Tests of each block check that its sample decodes and matches the defaults.
// Sample is allowed to panic if writing fails.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/openrio/riofab/pkg/private/serrors"
)

// Config is the interface that config structs should implement to allow for
// streamlined initialization, validation and sample generation.
type Config interface {
	Sampler
	Validator
	Defaulter
}

// Validator defines the validation part of Config.
type Validator interface {
	// Validate recursively checks that all fields contain valid values.
	Validate() error
}

// Defaulter defines the initialization part of Config.
type Defaulter interface {
	// InitDefaults recursively initializes the default values of all
	// uninitialized fields.
	InitDefaults()
}

// Sampler defines the sample generation part of Config.
type Sampler interface {
	// Sample writes a sample config to dst. Sample is allowed to panic if an
	// error occurs.
	Sample(dst io.Writer, path Path, ctx CtxMap)
}

// TableSampler is a Sampler that is rendered as its own TOML table.
type TableSampler interface {
	Sampler
	// ConfigName returns the name of the config block.
	ConfigName() string
}

// Path is the header of a config block possibly consisting of multiple parts.
type Path []string

// Extend creates a copy of the path with string s appended.
func (p Path) Extend(s string) Path {
	c := append(Path(nil), p...)
	return append(c, s)
}

// NoValidator can be embedded in config structs that do not need to validate.
type NoValidator struct{}

// Validate always returns nil.
func (NoValidator) Validate() error {
	return nil
}

// NoDefaulter can be embedded in config structs that do not have defaults.
type NoDefaulter struct{}

// InitDefaults is a no-op.
func (NoDefaulter) InitDefaults() {}

// StringSampler writes a fixed text and provides Name as ConfigName.
type StringSampler struct {
	Text string
	Name string
}

// Sample writes the text to dst.
func (s StringSampler) Sample(dst io.Writer, _ Path, _ CtxMap) {
	WriteString(dst, s.Text)
}

// ConfigName returns the name.
func (s StringSampler) ConfigName() string {
	return s.Name
}

// ValidateAll validates all validators. The first error encountered is returned.
func ValidateAll(validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return serrors.Wrap("validating config", err, "type", fmt.Sprintf("%T", v))
		}
	}
	return nil
}

// InitAll initializes all defaulters.
func InitAll(defaulters ...Defaulter) {
	for _, v := range defaulters {
		v.InitDefaults()
	}
}

// Decode decodes a raw TOML config. Unknown keys are rejected.
func Decode(raw []byte, cfg any) error {
	return toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg)
}

// LoadFile loads the config from file.
func LoadFile(file string, cfg any) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return serrors.Wrap("reading config file", err, "file", file)
	}
	if err := Decode(raw, cfg); err != nil {
		return serrors.Wrap("decoding config file", err, "file", file)
	}
	return nil
}

// Digest returns the SHA256 sum of the JSON encoding of cfg. It identifies the
// running configuration in logs.
func Digest(cfg any) ([]byte, error) {
	h := sha256.New()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
