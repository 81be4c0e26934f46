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

import (
	"context"
	"errors"
)

// ErrAccess is returned when a register access fails. Transport
// implementations wrap their errors with it.
var ErrAccess = errors.New("register access failed")

// Transport performs maintenance transactions on behalf of a master port.
// Every call may block until the transaction completes or ctx is done.
type Transport interface {
	// ReadConfig reads the 32-bit register at offset of the device reached
	// with destid and hop.
	ReadConfig(ctx context.Context, destid DestID, hop Hop, offset uint32) (uint32, error)
	// WriteConfig writes the 32-bit register at offset of the device reached
	// with destid and hop.
	WriteConfig(ctx context.Context, destid DestID, hop Hop, offset, val uint32) error
	// LocalReadConfig reads a register of the master port itself.
	LocalReadConfig(ctx context.Context, offset uint32) (uint32, error)
	// LocalWriteConfig writes a register of the master port itself.
	LocalWriteConfig(ctx context.Context, offset, val uint32) error
}

// PortWriteNotifier is implemented by transports that deliver inbound
// port-write messages. The handler must not block.
type PortWriteNotifier interface {
	NotifyPortWrites(handler func(PortWrite))
}
