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

package switches

import (
	"context"

	"github.com/openrio/riofab/pkg/rio"
)

// IDTCPS are the operations of the IDT CPS switch family. Routing uses the
// standard registers; table clearing and the port-write target use vendor
// specific registers.
type IDTCPS struct {
	Standard
}

// ClearTable implements Ops. A single broadcast write invalidates the whole
// table.
func (IDTCPS) ClearTable(ctx context.Context, m rio.Maint, _ bool) error {
	if err := m.Write(ctx, rio.StdRteDestIDSel, rio.IDTRouteBroadcast); err != nil {
		return err
	}
	return m.Write(ctx, rio.StdRtePortSel, uint32(rio.InvalidRoute))
}

// EMInit implements Ops.
func (IDTCPS) EMInit(ctx context.Context, m rio.Maint, host rio.DestID) error {
	return m.Write(ctx, rio.IDTPortWriteTarget, rio.PWTargetEnable|uint32(host))
}
