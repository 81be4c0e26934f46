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

// Package fabrictest provides simulated fabrics for tests.
package fabrictest

import (
	"embed"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/pkg/rio/riosim"
)

//go:embed testdata/*.yml
var topologies embed.FS

// Names of the embedded topologies.
const (
	// Chain is host0 - swA - swB - ep1.
	Chain = "chain"
	// Dual is two hosts on swA with one endpoint.
	Dual = "dual"
	// Redundant is one endpoint connected to two ports of swA.
	Redundant = "redundant"
	// Tree is a two level switch tree with three endpoints.
	Tree = "tree"
)

// Topology returns the embedded topology with the given name.
func Topology(t testing.TB, name string) *riosim.Topology {
	t.Helper()
	raw, err := topologies.ReadFile("testdata/" + name + ".yml")
	require.NoError(t, err)
	topo, err := riosim.ParseTopology(raw)
	require.NoError(t, err)
	return topo
}

// Fabric builds a simulated fabric from the embedded topology name.
func Fabric(t testing.TB, name string) *riosim.Fabric {
	t.Helper()
	f, err := riosim.New(Topology(t, name))
	require.NoError(t, err)
	return f
}

// MPort returns the master port of host in f.
func MPort(t testing.TB, f *riosim.Fabric, host string) *riosim.MPort {
	t.Helper()
	mp, err := f.MPort(host)
	require.NoError(t, err)
	return mp
}
