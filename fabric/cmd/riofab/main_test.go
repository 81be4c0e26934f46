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

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/fabric/config"
	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/pkg/rio"
	"github.com/openrio/riofab/private/app/launcher"
)

func TestWriteDevices(t *testing.T) {
	host := registry.NewDevice()
	host.Hop = rio.HopLocal
	sw := registry.NewDevice()
	sw.DestID, sw.Hop, sw.PEF, sw.PortCount = 1, 0, rio.PEFSwitch, 8
	sw.CompTag, sw.VendorID, sw.DeviceID = 0x10001, 0x0038, 0x0374
	ep := registry.NewDevice()
	ep.DestID, ep.Hop, ep.PrevDestID, ep.PrevPort = 2, 1, 1, 5

	var buf bytes.Buffer
	writeDevices(&buf, 3, []*registry.Device{host, sw, ep})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^\s*MPORT\s+DESTID\s+HOP\s+COMPTAG\s+VENDOR\s+DEVICE\s+KIND\s+PORTS\s+PARENT`,
		lines[0])
	assert.Regexp(t, `^\s*3\s+0x00\s+local\s+.*host\s+0\s+-\s*$`, lines[1])
	assert.Regexp(t, `^\s*3\s+0x01\s+0\s+0x00010001\s+0x0038\s+0x0374\s+switch\s+8\s+0x01/0\s*$`,
		lines[2])
	assert.Regexp(t, `^\s*3\s+0x02\s+1\s+.*endpoint\s+0\s+0x01/5\s*$`, lines[3])
}

func TestShowCommand(t *testing.T) {
	topo, err := filepath.Abs("../../internal/fabrictest/testdata/chain.yml")
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "riofab.toml")
	raw := fmt.Sprintf("[log.console]\nlevel = \"error\"\n\n"+
		"[[mport]]\nindex = 0\nenumerator = true\ntopology = %q\n", topo)
	require.NoError(t, os.WriteFile(file, []byte(raw), 0o644))

	out := runShow(t, "--config", file)
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5, out.String())
	assert.Regexp(t, `^\s*0\s+0x00\s+local\s.*host`, lines[1])
	assert.Regexp(t, `^\s*0\s+0x01\s+0\s.*switch\s+4\s+0x00/0\s*$`, lines[2])
	assert.Regexp(t, `^\s*0\s+0x02\s+1\s.*switch\s+4\s+0x01/2\s*$`, lines[3])
	assert.Regexp(t, `^\s*0\s+0x03\s+2\s+\S+\s+0x0074\s+0x0002\s+endpoint\s+\d+\s+0x02/1\s*$`,
		lines[4])

	out = runShow(t, "--config", file, "--mport", "1")
	assert.Empty(t, out.String())
}

func runShow(t *testing.T, args ...string) *bytes.Buffer {
	t.Helper()
	var cfg config.Config
	var out, errOut bytes.Buffer
	app := launcher.Application{
		TOMLConfig:  &cfg,
		ShortName:   "riofab",
		OutWriter:   &out,
		ErrorWriter: &errOut,
	}
	app.SubCommands = append(app.SubCommands, newShow(&app, &cfg))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, app.Execute(ctx, append([]string{"show"}, args...)))
	return &out
}
