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

package rio

import "context"

// MPort is a master port: the host's attachment to one fabric instance.
type MPort struct {
	// Index identifies the master port on this host.
	Index int
	// HostDestID is the ID this host uses for the hardware lock protocol.
	// An enumerating host also assigns it to itself.
	HostDestID DestID
	// Transport reaches the fabric behind this port.
	Transport Transport
	// Large selects 16-bit destids.
	Large bool
	// Enumerator is set if this host enumerates the fabric. Otherwise the
	// host discovers the IDs assigned by the enumerator.
	Enumerator bool
}

// AnyDestID returns the any-destid sentinel for the port's system size.
func (m *MPort) AnyDestID() DestID {
	return AnyDestID(m.Large)
}

// Local returns the accessor for the port's own registers.
func (m *MPort) Local() Maint {
	return Local(m.Transport)
}

// Remote returns the accessor for the device reached with destid and hop.
func (m *MPort) Remote(destid DestID, hop Hop) Maint {
	return Maint{T: m.Transport, DestID: destid, Hop: hop}
}

// ReadDestID reads the base device ID CSR of the local port.
func (m *MPort) ReadDestID(ctx context.Context) (DestID, error) {
	v, err := m.Local().Read(ctx, DIDCSR)
	if err != nil {
		return 0, err
	}
	return DecodeDestID(v, m.Large), nil
}
