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
	"encoding/binary"
	"fmt"

	"github.com/openrio/riofab/pkg/private/serrors"
)

// PortWriteSize is the size of a port-write message in bytes.
const PortWriteSize = 64

// PortWrite is a port-write message: 16 big-endian 32-bit words. Word 0
// carries the component tag of the sender, word 1 the error detect CSR,
// word 2 the implementation specific field with the port number in its low
// byte and word 3 the port error and status CSR.
type PortWrite [PortWriteSize / 4]uint32

// ParsePortWrite decodes raw. It fails if raw has the wrong size.
func ParsePortWrite(raw []byte) (PortWrite, error) {
	var pw PortWrite
	if len(raw) != PortWriteSize {
		return pw, serrors.New("invalid port-write size", "expected", PortWriteSize,
			"actual", len(raw))
	}
	for i := range pw {
		pw[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return pw, nil
}

// NewPortWrite builds a message from its header fields.
func NewPortWrite(tag CompTag, errDetect uint32, port Port, errStat uint32) PortWrite {
	var pw PortWrite
	pw[0] = uint32(tag)
	pw[1] = errDetect
	pw[2] = uint32(port)
	pw[3] = errStat
	return pw
}

// CompTag returns the component tag of the sending device.
func (pw PortWrite) CompTag() CompTag {
	return CompTag(pw[0])
}

// ErrDetect returns the error detect word.
func (pw PortWrite) ErrDetect() uint32 {
	return pw[1]
}

// Port returns the port the event occurred on.
func (pw PortWrite) Port() Port {
	return Port(pw[2])
}

// ErrStat returns the port error and status word carried in the message.
func (pw PortWrite) ErrStat() uint32 {
	return pw[3]
}

// Bytes encodes the message.
func (pw PortWrite) Bytes() []byte {
	raw := make([]byte, PortWriteSize)
	for i, w := range pw {
		binary.BigEndian.PutUint32(raw[i*4:], w)
	}
	return raw
}

func (pw PortWrite) String() string {
	return fmt.Sprintf("comptag=%s port=%d err_detect=0x%08x err_stat=0x%08x",
		pw.CompTag(), pw.Port(), pw.ErrDetect(), pw.ErrStat())
}
