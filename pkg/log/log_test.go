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

package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/metrics"
)

func TestSetupValidation(t *testing.T) {
	tests := map[string]struct {
		cfg       log.Config
		assertErr assert.ErrorAssertionFunc
	}{
		"defaults": {
			assertErr: assert.NoError,
		},
		"json debug": {
			cfg:       log.Config{Console: log.ConsoleConfig{Level: "debug", Format: "json"}},
			assertErr: assert.NoError,
		},
		"bad level": {
			cfg:       log.Config{Console: log.ConsoleConfig{Level: "loud"}},
			assertErr: assert.Error,
		},
		"bad format": {
			cfg:       log.Config{Console: log.ConsoleConfig{Format: "xml"}},
			assertErr: assert.Error,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc.assertErr(t, log.Setup(tc.cfg))
		})
	}
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log.SetRoot(zap.New(core))

	ctx, logger := log.WithLabels(context.Background(), "mport", 0)
	assert.Equal(t, logger, log.FromCtx(ctx))
	log.FromCtx(ctx).Info("Enumeration started", "hop", 0)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.EqualValues(t, 0, fields["mport"])
		assert.EqualValues(t, 0, fields["hop"])
	}
	assert.NotNil(t, log.FromCtx(context.Background()))
}

func TestEntriesCounter(t *testing.T) {
	debug, info, errs := metrics.NewTestCounter(), metrics.NewTestCounter(),
		metrics.NewTestCounter()
	err := log.Setup(
		log.Config{Console: log.ConsoleConfig{Level: "debug"}},
		log.WithEntriesCounter(log.EntriesCounter{Debug: debug, Info: info, Error: errs}),
	)
	assert.NoError(t, err)
	log.Debug("a")
	log.Info("b")
	log.Info("c")
	assert.Equal(t, float64(1), metrics.CounterValue(debug))
	assert.Equal(t, float64(2), metrics.CounterValue(info))
	assert.Equal(t, float64(0), metrics.CounterValue(errs))
}
