package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jpalmerr/unipoll/internal/inventory"
)

const namespace = "unifi"

// unknownNetwork groups clients whose network name is absent in the
// per-network client totals.
const unknownNetwork = "unknown"

var (
	deviceLabels = []string{"id", "name", "mac"}
	clientLabels = []string{"id", "mac", "hostname"}
)

// Sink holds the inventory snapshot of the last successful poll and exposes
// it as Prometheus metrics.
//
// Sink implements [prometheus.Collector]. Series are generated from the
// current snapshot on every scrape, so a replaced snapshot takes effect
// atomically: scrapes see either the old inventory or the new one, never a
// mix. Before the first [Sink.Replace] it emits nothing.
type Sink struct {
	mu   sync.RWMutex
	snap *inventory.Snapshot

	deviceInfo     *prometheus.Desc
	deviceUptime   *prometheus.Desc
	deviceAdopted  *prometheus.Desc
	deviceState    *prometheus.Desc
	deviceCPU      *prometheus.Desc
	deviceMemory   *prometheus.Desc
	deviceLoad     *prometheus.Desc
	deviceMemTotal *prometheus.Desc
	deviceMemUsed  *prometheus.Desc
	deviceBytes    *prometheus.Desc
	devicePackets  *prometheus.Desc
	clientInfo     *prometheus.Desc
	clientBytes    *prometheus.Desc
	clientSignal   *prometheus.Desc
	clientUptime   *prometheus.Desc
	clientsTotal   *prometheus.Desc
	sitesTotal     *prometheus.Desc
	recordsSkipped *prometheus.Desc
	snapshotTime   *prometheus.Desc
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{
		deviceInfo: desc("device_info", "UniFi device information",
			"id", "name", "mac", "type", "model", "version"),
		deviceUptime:  desc("device_uptime_seconds", "Device uptime in seconds", deviceLabels...),
		deviceAdopted: desc("device_adopted", "Device adoption status (1=adopted, 0=not adopted)", deviceLabels...),
		deviceState:   desc("device_state", "Device state as reported by the controller", deviceLabels...),
		deviceCPU:     desc("device_cpu_usage_percent", "Device CPU usage in percent", deviceLabels...),
		deviceMemory:  desc("device_memory_usage_percent", "Device memory usage in percent", deviceLabels...),
		deviceLoad: desc("device_load_average", "Device load average",
			append(append([]string{}, deviceLabels...), "period")...),
		deviceMemTotal: desc("device_memory_total_bytes", "Device total memory in bytes", deviceLabels...),
		deviceMemUsed:  desc("device_memory_used_bytes", "Device used memory in bytes", deviceLabels...),
		deviceBytes: desc("device_bytes_total", "Total bytes transferred by the device",
			append(append([]string{}, deviceLabels...), "direction")...),
		devicePackets: desc("device_packets_total", "Total packets transferred by the device",
			append(append([]string{}, deviceLabels...), "direction")...),
		clientInfo: desc("client_info", "UniFi client information",
			"id", "mac", "hostname", "name", "ip", "network", "ap_mac"),
		clientBytes: desc("client_bytes_total", "Total bytes transferred by the client",
			append(append([]string{}, clientLabels...), "direction")...),
		clientSignal:    desc("client_signal_strength_dbm", "Client WiFi signal strength in dBm", clientLabels...),
		clientUptime:    desc("client_uptime_seconds", "Client connection uptime in seconds", clientLabels...),
		clientsTotal:    desc("clients_total", "Number of connected clients", "type", "network", "is_guest"),
		sitesTotal:      desc("sites_total", "Number of sites visible to the exporter"),
		recordsSkipped:  desc("records_skipped", "Records dropped as malformed in the last successful poll", "class"),
		snapshotTime:    desc("snapshot_timestamp_seconds", "Unix time the current inventory snapshot was collected"),
	}
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

// Replace swaps in snap as the current inventory. The previous snapshot is
// discarded whole.
func (s *Sink) Replace(snap inventory.Snapshot) {
	s.mu.Lock()
	s.snap = &snap
	s.mu.Unlock()
}

// Snapshot returns the current inventory. The boolean is false before the
// first successful poll.
func (s *Sink) Snapshot() (inventory.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return inventory.Snapshot{}, false
	}
	return *s.snap, true
}

// Describe implements [prometheus.Collector].
func (s *Sink) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		s.deviceInfo, s.deviceUptime, s.deviceAdopted, s.deviceState,
		s.deviceCPU, s.deviceMemory, s.deviceLoad, s.deviceMemTotal,
		s.deviceMemUsed, s.deviceBytes, s.devicePackets,
		s.clientInfo, s.clientBytes, s.clientSignal, s.clientUptime,
		s.clientsTotal, s.sitesTotal, s.recordsSkipped, s.snapshotTime,
	} {
		ch <- d
	}
}

// Collect implements [prometheus.Collector].
func (s *Sink) Collect(ch chan<- prometheus.Metric) {
	// the snapshot is never mutated after Replace, so it can be read
	// without holding the lock
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if snap == nil {
		return
	}

	for _, d := range snap.Devices {
		s.collectDevice(ch, d)
	}
	for _, c := range snap.Clients {
		s.collectClient(ch, c)
	}
	s.collectClientTotals(ch, snap.Clients)

	ch <- prometheus.MustNewConstMetric(s.sitesTotal, prometheus.GaugeValue, float64(snap.Sites.Count))

	ch <- prometheus.MustNewConstMetric(s.recordsSkipped, prometheus.GaugeValue, float64(snap.Skipped.Devices), "devices")
	ch <- prometheus.MustNewConstMetric(s.recordsSkipped, prometheus.GaugeValue, float64(snap.Skipped.Clients), "clients")
	ch <- prometheus.MustNewConstMetric(s.recordsSkipped, prometheus.GaugeValue, float64(snap.Skipped.Sites), "sites")

	if !snap.CollectedAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(s.snapshotTime, prometheus.GaugeValue,
			float64(snap.CollectedAt.UnixNano())/1e9)
	}
}

func (s *Sink) collectDevice(ch chan<- prometheus.Metric, d inventory.Device) {
	labels := []string{d.ID, d.Name, d.MAC}
	gauge := func(desc *prometheus.Desc, v float64, extra ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, append(labels, extra...)...)
	}
	counter := func(desc *prometheus.Desc, v float64, extra ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, append(labels, extra...)...)
	}

	ch <- prometheus.MustNewConstMetric(s.deviceInfo, prometheus.GaugeValue, 1,
		d.ID, d.Name, d.MAC, d.Type, d.Model, d.Version)

	gauge(s.deviceUptime, d.Uptime)
	gauge(s.deviceAdopted, boolValue(d.Adopted))
	gauge(s.deviceState, d.State)
	gauge(s.deviceCPU, d.CPUPercent)
	gauge(s.deviceMemory, d.MemoryPercent)
	gauge(s.deviceLoad, d.Load1, "1m")
	gauge(s.deviceLoad, d.Load5, "5m")
	gauge(s.deviceLoad, d.Load15, "15m")
	gauge(s.deviceMemTotal, d.MemTotal)
	gauge(s.deviceMemUsed, d.MemUsed)

	counter(s.deviceBytes, d.RxBytes, "rx")
	counter(s.deviceBytes, d.TxBytes, "tx")
	counter(s.devicePackets, d.RxPackets, "rx")
	counter(s.devicePackets, d.TxPackets, "tx")
}

func (s *Sink) collectClient(ch chan<- prometheus.Metric, c inventory.Client) {
	labels := []string{c.ID, c.MAC, c.Hostname}

	ch <- prometheus.MustNewConstMetric(s.clientInfo, prometheus.GaugeValue, 1,
		c.ID, c.MAC, c.Hostname, c.Name, c.IP, c.Network, c.APMAC)

	ch <- prometheus.MustNewConstMetric(s.clientBytes, prometheus.CounterValue, c.RxBytes, append(labels, "rx")...)
	ch <- prometheus.MustNewConstMetric(s.clientBytes, prometheus.CounterValue, c.TxBytes, append(labels, "tx")...)

	if c.HasSignal {
		ch <- prometheus.MustNewConstMetric(s.clientSignal, prometheus.GaugeValue, c.Signal, labels...)
	}
	ch <- prometheus.MustNewConstMetric(s.clientUptime, prometheus.GaugeValue, c.Uptime, labels...)
}

// collectClientTotals emits aggregate client counts by connection type, by
// guest flag and by network. "all" marks a label that is not broken down.
func (s *Sink) collectClientTotals(ch chan<- prometheus.Metric, clients []inventory.Client) {
	var wired, wireless, guests int
	perNetwork := make(map[string]int)
	for _, c := range clients {
		if c.Wired {
			wired++
		} else {
			wireless++
		}
		if c.Guest {
			guests++
		}
		network := c.Network
		if network == "" {
			network = unknownNetwork
		}
		perNetwork[network]++
	}

	total := func(v int, connection, network, guest string) {
		ch <- prometheus.MustNewConstMetric(s.clientsTotal, prometheus.GaugeValue, float64(v), connection, network, guest)
	}
	total(wired, "wired", "all", "all")
	total(wireless, "wireless", "all", "all")
	total(guests, "all", "all", "true")
	total(len(clients)-guests, "all", "all", "false")
	for network, n := range perNetwork {
		total(n, "all", network, "all")
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
