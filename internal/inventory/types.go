package inventory

import "time"

// Device is one network device (AP, switch, gateway) normalized from the
// controller's stat/device response. Absent or null fields are zero.
type Device struct {
	ID      string
	Name    string
	MAC     string
	Type    string
	Model   string
	Version string

	Adopted bool
	State   float64
	Uptime  float64

	CPUPercent    float64
	MemoryPercent float64

	Load1  float64
	Load5  float64
	Load15 float64

	MemTotal float64
	MemUsed  float64

	RxBytes   float64
	TxBytes   float64
	RxPackets float64
	TxPackets float64
}

// Client is one connected station normalized from stat/sta.
type Client struct {
	ID       string
	MAC      string
	Hostname string
	Name     string
	IP       string
	Network  string
	APMAC    string

	Guest bool
	Wired bool

	// Signal is the RSSI in dBm. Only meaningful when HasSignal is true;
	// wired clients never carry one.
	Signal    float64
	HasSignal bool

	Uptime  float64
	RxBytes float64
	TxBytes float64
}

// DisplayName returns the best human-readable label for the client.
func (c Client) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Hostname != "":
		return c.Hostname
	default:
		return c.MAC
	}
}

// DeviceBatch is the result of one device fetch.
type DeviceBatch struct {
	Devices []Device

	// Skipped counts malformed or duplicate entries that were dropped.
	Skipped int
}

// ClientBatch is the result of one client fetch.
type ClientBatch struct {
	Clients []Client
	Skipped int
}

// SiteSummary is the result of one site fetch.
type SiteSummary struct {
	Count   int
	Skipped int
}

// Skipped counts dropped records per inventory class.
type Skipped struct {
	Devices int
	Clients int
	Sites   int
}

// Snapshot is the complete inventory gathered by one poll cycle.
// It is immutable once built.
type Snapshot struct {
	Devices     []Device
	Clients     []Client
	Sites       SiteSummary
	Skipped     Skipped
	CollectedAt time.Time
}
