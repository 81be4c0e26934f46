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

package network_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/fabric/network"
)

func TestAllocate(t *testing.T) {
	a := network.NewAllocator()
	n0 := a.Allocate(0)
	n1 := a.Allocate(1)
	assert.Equal(t, 0, n0.Index)
	assert.Equal(t, 1, n1.Index)
	assert.NotEqual(t, uuid.Nil, n0.ID)
	assert.NotEqual(t, n0.ID, n1.ID)

	require.NoError(t, a.Release(n0))
	n2 := a.Allocate(2)
	assert.Equal(t, 0, n2.Index)
	assert.Equal(t, []*network.Network{n2, n1}, a.Networks())
}

func TestPinnedRelease(t *testing.T) {
	a := network.NewAllocator()
	n := a.Allocate(0)
	n.Pin()
	n.Pin()
	assert.ErrorIs(t, a.Release(n), network.ErrBusy)
	assert.False(t, n.Unpin())
	assert.True(t, n.Unpin())
	assert.Equal(t, 0, n.Pins())
	require.NoError(t, a.Release(n))
	assert.ErrorIs(t, a.Release(n), network.ErrUnknown)
}
