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

package rio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrio/riofab/pkg/private/xtest"
	"github.com/openrio/riofab/pkg/rio"
)

func TestParsePortWrite(t *testing.T) {
	raw := xtest.MustParseHexString(`
		00000005 00000000 00000003 00000102
		00000000 00000000 00000000 00000000
		00000000 00000000 00000000 00000000
		00000000 00000000 00000000 00000000`)
	pw, err := rio.ParsePortWrite(raw)
	require.NoError(t, err)
	assert.Equal(t, rio.CompTag(5), pw.CompTag())
	assert.Equal(t, rio.Port(3), pw.Port())
	assert.Equal(t, uint32(0x102), pw.ErrStat())
	assert.Equal(t, raw, pw.Bytes())
	assert.Equal(t, pw, rio.NewPortWrite(5, 0, 3, 0x102))

	_, err = rio.ParsePortWrite(raw[:60])
	assert.Error(t, err)
	_, err = rio.ParsePortWrite(append(raw, 0))
	assert.Error(t, err)
}
