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

package riosim

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/openrio/riofab/pkg/private/serrors"
)

// Kind is the kind of a simulated device.
type Kind string

// Supported device kinds.
const (
	KindHost     Kind = "host"
	KindSwitch   Kind = "switch"
	KindEndpoint Kind = "endpoint"
)

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name     string `yaml:"name"`
	Kind     Kind   `yaml:"kind"`
	VendorID uint16 `yaml:"vendor_id"`
	DeviceID uint16 `yaml:"device_id"`
	// Ports defaults to 1 for hosts and endpoints.
	Ports int `yaml:"ports"`
}

// LinkSpec connects two device ports. Ends are written as "name:port".
type LinkSpec struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// Topology is the description of a simulated fabric.
type Topology struct {
	Large   bool         `yaml:"large_system"`
	Devices []DeviceSpec `yaml:"devices"`
	Links   []LinkSpec   `yaml:"links"`
}

// LoadTopology reads a YAML topology file.
func LoadTopology(file string) (*Topology, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, serrors.Wrap("reading topology", err, "file", file)
	}
	topo, err := ParseTopology(raw)
	if err != nil {
		return nil, serrors.Wrap("parsing topology", err, "file", file)
	}
	return topo, nil
}

// ParseTopology decodes a YAML topology.
func ParseTopology(raw []byte) (*Topology, error) {
	var topo Topology
	if err := yaml.UnmarshalStrict(raw, &topo); err != nil {
		return nil, err
	}
	return &topo, nil
}

func (s DeviceSpec) validate() error {
	if s.Name == "" {
		return serrors.New("device without name")
	}
	switch s.Kind {
	case KindHost, KindEndpoint:
	case KindSwitch:
		if s.Ports < 2 {
			return serrors.New("switch needs at least two ports", "name", s.Name,
				"ports", s.Ports)
		}
	default:
		return serrors.New("unknown device kind", "name", s.Name, "kind", s.Kind)
	}
	if s.Ports > 0xfe {
		return serrors.New("too many ports", "name", s.Name, "ports", s.Ports)
	}
	return nil
}

func parseEnd(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return "", 0, serrors.New("invalid link end", "end", s)
	}
	port, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, serrors.Wrap("invalid link port", err, "end", s)
	}
	return s[:i], port, nil
}
