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

package hotplug

import (
	"context"

	"github.com/openrio/riofab/fabric/registry"
	"github.com/openrio/riofab/pkg/log"
)

// DeviceModel is notified when devices become visible to the rest of the
// system and when they disappear.
type DeviceModel interface {
	// Register makes d visible. If it fails, the device stays registered
	// in the fabric but is tagged disabled.
	Register(ctx context.Context, mport int, d *registry.Device) error
	// Unregister is called for every device that was registered
	// successfully.
	Unregister(ctx context.Context, mport int, d *registry.Device)
}

// LogDeviceModel is a DeviceModel that only logs.
type LogDeviceModel struct{}

// Register implements DeviceModel.
func (LogDeviceModel) Register(ctx context.Context, mport int, d *registry.Device) error {
	log.FromCtx(ctx).Info("Device added", "mport", mport, "destid", d.DestID, "hop", d.Hop,
		"comptag", d.CompTag, "vendor", d.VendorID, "device", d.DeviceID,
		"switch", d.IsSwitch())
	return nil
}

// Unregister implements DeviceModel.
func (LogDeviceModel) Unregister(ctx context.Context, mport int, d *registry.Device) {
	log.FromCtx(ctx).Info("Device removed", "mport", mport, "destid", d.DestID,
		"comptag", d.CompTag)
}
