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

package config

const generalSample = `
# Identifier of this fabric manager instance. (default "riofab")
id = "riofab"
`

const metricsSample = `
# Address of the prometheus HTTP endpoint. Metrics are not exposed if empty.
prometheus = "127.0.0.1:30455"
`

const lockSample = `
# Time to wait for a device hardware lock. (default 1s)
timeout = "1s"
`

const discoverySample = `
# Time a discovering host waits for the enumerator to finish. (default 10s)
timeout = "10s"

# Number of switch LUT entries scanned to find a probe destid. (default 256)
scan_limit = 256
`

const walkSample = `
# Maximum depth of the topology walk. (default 255)
max_hops = 255
`

const routeSample = `
# Number of switch faults a reconcile sweep tolerates before it is aborted. (default 8)
fault_limit = 8

# Period of the route reconcile sweep. (default 30s)
reconcile_interval = "30s"
`

const hotplugSample = `
# Identical port-writes received within this window are dropped. (default 1s)
dedupe_window = "1s"

# Maximum number of queued port-writes. (default 64)
queue_size = 64

# Time to wait for a link maintenance response. (default 100ms)
ackid_timeout = "100ms"
`

const destidSample = `
# Destid allocation mode (dynamic|static). (default dynamic)
mode = "dynamic"

# Default hardware lock flag of dynamically allocated entries. (default true)
lock_hw = true

# Default LUT update flag of dynamically allocated entries. (default true)
lut_update = true
`

const staticSample = `
# Hop count of the device.
hop = 0

# Port of the parent through which the device is reached.
parent_port = 0

# Destid of the parent.
parent_destid = 0

# Destid assigned to the device.
destid = 1

# Use the hardware lock of the device.
lock_hw = true

# Program the LUT of the device if it is a switch.
lut_update = true

# Static LUT entries of the device.
routes = [{ destid = 2, port = 1 }]
`

const mportSample = `
# Index of the master port.
index = 0

# Destid of this host on the fabric behind the port.
host_destid = 0

# Use 16-bit destids.
large_system = false

# Enumerate the fabric. Non-enumerating hosts discover it.
enumerator = true

# Switch ports at which enumeration stops.
boundary_ports = [{ switch = 1, port = 7 }]

# Simulator topology backing the port.
topology = "topology.yml"

# Name of the simulated host owning the port. (default host0)
sim_host = "host0"
`
