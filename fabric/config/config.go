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

// Package config contains the configuration of the riofab fabric manager.
package config

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/pkg/private/serrors"
	"github.com/openrio/riofab/pkg/private/util"
	"github.com/openrio/riofab/private/config"
)

// Defaults of the tunable values.
const (
	DefaultLockTimeout       = time.Second
	DefaultDiscoveryTimeout  = 10 * time.Second
	DefaultScanLimit         = 256
	DefaultMaxHops           = 255
	DefaultFaultLimit        = 8
	DefaultReconcileInterval = 30 * time.Second
	DefaultDedupeWindow      = time.Second
	DefaultQueueSize         = 64
	DefaultAckIDTimeout      = 100 * time.Millisecond

	metricsHandlerTimeout = time.Minute
)

// Destid allocation modes.
const (
	ModeDynamic = "dynamic"
	ModeStatic  = "static"
)

var _ config.Config = (*Config)(nil)

// Config is the riofab configuration.
type Config struct {
	General   General    `toml:"general,omitempty"`
	Logging   log.Config `toml:"log,omitempty"`
	Metrics   Metrics    `toml:"metrics,omitempty"`
	Lock      Lock       `toml:"lock,omitempty"`
	Discovery Discovery  `toml:"discovery,omitempty"`
	Walk      Walk       `toml:"walk,omitempty"`
	Route     Route      `toml:"route,omitempty"`
	Hotplug   Hotplug    `toml:"hotplug,omitempty"`
	DestID    DestID     `toml:"destid,omitempty"`
	MPorts    []MPort    `toml:"mport,omitempty"`
}

// InitDefaults initializes the default values of all unset fields.
func (cfg *Config) InitDefaults() {
	config.InitAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.Lock,
		&cfg.Discovery,
		&cfg.Walk,
		&cfg.Route,
		&cfg.Hotplug,
		&cfg.DestID,
	)
	for i := range cfg.MPorts {
		cfg.MPorts[i].InitDefaults()
	}
}

// Validate validates all sections.
func (cfg *Config) Validate() error {
	if err := config.ValidateAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.Lock,
		&cfg.Discovery,
		&cfg.Walk,
		&cfg.Route,
		&cfg.Hotplug,
		&cfg.DestID,
	); err != nil {
		return err
	}
	seen := make(map[int]bool)
	for i := range cfg.MPorts {
		m := &cfg.MPorts[i]
		if err := m.Validate(); err != nil {
			return serrors.Wrap("validating mport", err, "index", m.Index)
		}
		if seen[m.Index] {
			return serrors.New("duplicate mport index", "index", m.Index)
		}
		seen[m.Index] = true
		if cfg.DestID.Mode == ModeStatic && m.Enumerator && len(cfg.DestID.Static) == 0 {
			return serrors.New("static destid mode without static entries", "index", m.Index)
		}
	}
	return nil
}

// Sample writes a sample of the whole configuration.
func (cfg *Config) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteSample(dst, path, ctx,
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.Lock,
		&cfg.Discovery,
		&cfg.Walk,
		&cfg.Route,
		&cfg.Hotplug,
		&cfg.DestID,
		&MPort{},
	)
}

// General contains the general service settings.
type General struct {
	config.NoValidator
	// ID is the service identifier used in logs and metrics.
	ID string `toml:"id,omitempty"`
}

// InitDefaults sets the default ID.
func (cfg *General) InitDefaults() {
	if cfg.ID == "" {
		cfg.ID = "riofab"
	}
}

// Sample writes the sample.
func (cfg *General) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, generalSample)
}

// ConfigName returns the table name.
func (cfg *General) ConfigName() string { return "general" }

// Metrics contains the metrics exposition settings.
type Metrics struct {
	config.NoDefaulter
	config.NoValidator
	// Prometheus is the address the prometheus HTTP endpoint listens on. If
	// empty, metrics are not exposed.
	Prometheus string `toml:"prometheus,omitempty"`
}

// Sample writes the sample.
func (cfg *Metrics) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, metricsSample)
}

// ConfigName returns the table name.
func (cfg *Metrics) ConfigName() string { return "metrics" }

// ServePrometheus serves the prometheus metrics until ctx is done. It
// returns immediately if no address is configured.
func (cfg *Metrics) ServePrometheus(ctx context.Context) error {
	if cfg.Prometheus == "" {
		return nil
	}
	handler := promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{Timeout: metricsHandlerTimeout},
		),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	log.Info("Exporting prometheus metrics", "addr", cfg.Prometheus)

	server := &http.Server{Addr: cfg.Prometheus, Handler: mux}
	go func() {
		defer log.HandlePanic()
		<-ctx.Done()
		server.Close()
	}()
	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return serrors.Wrap("serving prometheus metrics", err)
	}
	return nil
}

// Lock contains the hardware lock settings.
type Lock struct {
	// Timeout bounds the wait for a device lock.
	Timeout util.DurWrap `toml:"timeout,omitempty"`
}

// InitDefaults sets the default timeout.
func (cfg *Lock) InitDefaults() {
	if cfg.Timeout.Duration == 0 {
		cfg.Timeout.Duration = DefaultLockTimeout
	}
}

// Validate checks the timeout.
func (cfg *Lock) Validate() error {
	if cfg.Timeout.Duration <= 0 {
		return serrors.New("lock timeout must be positive", "timeout", cfg.Timeout)
	}
	return nil
}

// Sample writes the sample.
func (cfg *Lock) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, lockSample)
}

// ConfigName returns the table name.
func (cfg *Lock) ConfigName() string { return "lock" }

// Discovery contains the settings of non-enumerating hosts.
type Discovery struct {
	// Timeout bounds the wait for the enumerator to complete.
	Timeout util.DurWrap `toml:"timeout,omitempty"`
	// ScanLimit is the number of LUT entries scanned for a probe destid.
	ScanLimit int `toml:"scan_limit,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *Discovery) InitDefaults() {
	if cfg.Timeout.Duration == 0 {
		cfg.Timeout.Duration = DefaultDiscoveryTimeout
	}
	if cfg.ScanLimit == 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
}

// Validate checks the values.
func (cfg *Discovery) Validate() error {
	if cfg.Timeout.Duration <= 0 {
		return serrors.New("discovery timeout must be positive", "timeout", cfg.Timeout)
	}
	if cfg.ScanLimit < 1 || cfg.ScanLimit > 1<<16 {
		return serrors.New("scan limit out of range", "scan_limit", cfg.ScanLimit)
	}
	return nil
}

// Sample writes the sample.
func (cfg *Discovery) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, discoverySample)
}

// ConfigName returns the table name.
func (cfg *Discovery) ConfigName() string { return "discovery" }

// Walk contains the topology walker settings.
type Walk struct {
	// MaxHops bounds the depth of the walk.
	MaxHops int `toml:"max_hops,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *Walk) InitDefaults() {
	if cfg.MaxHops == 0 {
		cfg.MaxHops = DefaultMaxHops
	}
}

// Validate checks the values.
func (cfg *Walk) Validate() error {
	if cfg.MaxHops < 1 || cfg.MaxHops > 255 {
		return serrors.New("max_hops out of range", "max_hops", cfg.MaxHops)
	}
	return nil
}

// Sample writes the sample.
func (cfg *Walk) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, walkSample)
}

// ConfigName returns the table name.
func (cfg *Walk) ConfigName() string { return "walk" }

// Route contains the route table manager settings.
type Route struct {
	// FaultLimit is the number of switch faults a reconcile sweep tolerates.
	// The sweep is aborted when it is exceeded.
	FaultLimit int `toml:"fault_limit,omitempty"`
	// ReconcileInterval is the period of the reconcile sweep.
	ReconcileInterval util.DurWrap `toml:"reconcile_interval,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *Route) InitDefaults() {
	if cfg.FaultLimit == 0 {
		cfg.FaultLimit = DefaultFaultLimit
	}
	if cfg.ReconcileInterval.Duration == 0 {
		cfg.ReconcileInterval.Duration = DefaultReconcileInterval
	}
}

// Validate checks the values.
func (cfg *Route) Validate() error {
	if cfg.FaultLimit < 1 {
		return serrors.New("fault_limit must be positive", "fault_limit", cfg.FaultLimit)
	}
	if cfg.ReconcileInterval.Duration <= 0 {
		return serrors.New("reconcile interval must be positive",
			"reconcile_interval", cfg.ReconcileInterval)
	}
	return nil
}

// Sample writes the sample.
func (cfg *Route) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, routeSample)
}

// ConfigName returns the table name.
func (cfg *Route) ConfigName() string { return "route" }

// Hotplug contains the port-write handling settings.
type Hotplug struct {
	// DedupeWindow is the time during which identical port-writes are dropped.
	DedupeWindow util.DurWrap `toml:"dedupe_window,omitempty"`
	// QueueSize bounds the number of pending port-writes.
	QueueSize int `toml:"queue_size,omitempty"`
	// AckIDTimeout bounds the wait for a link maintenance response.
	AckIDTimeout util.DurWrap `toml:"ackid_timeout,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *Hotplug) InitDefaults() {
	if cfg.DedupeWindow.Duration == 0 {
		cfg.DedupeWindow.Duration = DefaultDedupeWindow
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.AckIDTimeout.Duration == 0 {
		cfg.AckIDTimeout.Duration = DefaultAckIDTimeout
	}
}

// Validate checks the values.
func (cfg *Hotplug) Validate() error {
	if cfg.QueueSize < 1 {
		return serrors.New("queue_size must be positive", "queue_size", cfg.QueueSize)
	}
	if cfg.AckIDTimeout.Duration <= 0 {
		return serrors.New("ackid_timeout must be positive", "ackid_timeout", cfg.AckIDTimeout)
	}
	return nil
}

// Sample writes the sample.
func (cfg *Hotplug) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, hotplugSample)
}

// ConfigName returns the table name.
func (cfg *Hotplug) ConfigName() string { return "hotplug" }

// DestID contains the destid allocation settings.
type DestID struct {
	// Mode is either dynamic or static.
	Mode string `toml:"mode,omitempty"`
	// LockHW is the default of the hardware lock flag of dynamic entries.
	LockHW *bool `toml:"lock_hw,omitempty"`
	// LUTUpdate is the default of the LUT update flag of dynamic entries.
	LUTUpdate *bool `toml:"lut_update,omitempty"`
	// Static are the preconfigured entries.
	Static []StaticEntry `toml:"static,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *DestID) InitDefaults() {
	if cfg.Mode == "" {
		cfg.Mode = ModeDynamic
	}
	if cfg.LockHW == nil {
		t := true
		cfg.LockHW = &t
	}
	if cfg.LUTUpdate == nil {
		t := true
		cfg.LUTUpdate = &t
	}
}

// Validate checks the mode and the static entries.
func (cfg *DestID) Validate() error {
	if cfg.Mode != ModeDynamic && cfg.Mode != ModeStatic {
		return serrors.New("unknown destid mode", "mode", cfg.Mode)
	}
	type key struct {
		hop, port int
		parent    uint16
	}
	keys := make(map[key]bool)
	ids := make(map[uint16]bool)
	for _, e := range cfg.Static {
		k := key{hop: e.Hop, port: e.ParentPort, parent: e.ParentDestID}
		if keys[k] {
			return serrors.New("duplicate static entry", "hop", e.Hop,
				"parent_port", e.ParentPort, "parent_destid", e.ParentDestID)
		}
		keys[k] = true
		if ids[e.DestID] {
			return serrors.New("duplicate static destid", "destid", e.DestID)
		}
		ids[e.DestID] = true
		if e.Hop < 0 || e.Hop > 255 || e.ParentPort < 0 || e.ParentPort > 255 {
			return serrors.New("static entry out of range", "hop", e.Hop,
				"parent_port", e.ParentPort)
		}
		if e.OneWay && e.ReturnPort == nil {
			return serrors.New("one_way entry needs return_port", "destid", e.DestID)
		}
	}
	return nil
}

// Sample writes the sample.
func (cfg *DestID) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, destidSample)
	config.WriteSample(dst, path, ctx, staticSampler{})
}

// ConfigName returns the table name.
func (cfg *DestID) ConfigName() string { return "destid" }

// StaticEntry is a preconfigured destid table entry. It is keyed by the edge
// through which the device is reached.
type StaticEntry struct {
	Hop          int    `toml:"hop"`
	ParentPort   int    `toml:"parent_port"`
	ParentDestID uint16 `toml:"parent_destid"`
	DestID       uint16 `toml:"destid"`
	CompTag      uint32 `toml:"comptag,omitempty"`
	LockHW       bool   `toml:"lock_hw,omitempty"`
	LUTUpdate    bool   `toml:"lut_update,omitempty"`
	OneWay       bool   `toml:"one_way,omitempty"`
	Legacy       bool   `toml:"legacy,omitempty"`
	ReturnPort   *int   `toml:"return_port,omitempty"`
	// Routes are static LUT overrides of the device, if it is a switch.
	Routes []StaticRoute `toml:"routes,omitempty"`
}

// StaticRoute is one static LUT entry.
type StaticRoute struct {
	DestID uint16 `toml:"destid"`
	Port   int    `toml:"port"`
}

type staticSampler struct{}

func (staticSampler) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, staticSample)
}

func (staticSampler) ConfigName() string { return "static" }

func (staticSampler) IsArray() {}

// BoundaryPort is a switch port at which enumeration stops.
type BoundaryPort struct {
	Switch uint16 `toml:"switch"`
	Port   int    `toml:"port"`
}

// MPort configures one master port.
type MPort struct {
	Index      int            `toml:"index"`
	HostDestID uint16         `toml:"host_destid"`
	Large      bool           `toml:"large_system,omitempty"`
	Enumerator bool           `toml:"enumerator,omitempty"`
	Boundary   []BoundaryPort `toml:"boundary_ports,omitempty"`
	// Topology is the simulator topology file backing this port.
	Topology string `toml:"topology,omitempty"`
	// SimHost is the simulated host the port belongs to.
	SimHost string `toml:"sim_host,omitempty"`
}

// InitDefaults sets the defaults.
func (cfg *MPort) InitDefaults() {
	if cfg.SimHost == "" {
		cfg.SimHost = "host0"
	}
}

// Validate checks the values.
func (cfg *MPort) Validate() error {
	if cfg.Index < 0 {
		return serrors.New("negative index", "index", cfg.Index)
	}
	if !cfg.Large && cfg.HostDestID >= 0xff {
		return serrors.New("host destid out of range for small system",
			"host_destid", cfg.HostDestID)
	}
	if cfg.Topology == "" {
		return serrors.New("no transport configured", "index", cfg.Index)
	}
	return nil
}

// Sample writes the sample.
func (cfg *MPort) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, mportSample)
}

// ConfigName returns the table name.
func (cfg *MPort) ConfigName() string { return "mport" }

// IsArray marks the block as an array of tables.
func (cfg *MPort) IsArray() {}

// IsBoundary reports whether the port of the switch with the given destid is
// an enumeration boundary.
func (cfg *MPort) IsBoundary(sw uint16, port int) bool {
	for _, b := range cfg.Boundary {
		if b.Switch == sw && b.Port == port {
			return true
		}
	}
	return false
}
