package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// number accepts a JSON number, a numeric string, or null. The controller
// reports some gauges (load averages) as strings and others as numbers
// depending on firmware.
type number struct {
	Value float64
	Valid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = number{}
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = number{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q", s)
		}
		*n = number{Value: v, Valid: true}
		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number{Value: v, Valid: true}
	return nil
}

// or returns the value if set, otherwise fallback.
func (n *number) or(fallback number) float64 {
	if n != nil && n.Valid {
		return n.Value
	}
	return fallback.Value
}

type envelope struct {
	Meta *struct {
		RC  string `json:"rc"`
		Msg string `json:"msg"`
	} `json:"meta"`
	Data *[]json.RawMessage `json:"data"`
}

type rawDevice struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	MAC     string `json:"mac"`
	Type    string `json:"type"`
	Model   string `json:"model"`
	Version string `json:"version"`
	Adopted bool   `json:"adopted"`
	State   number `json:"state"`
	Uptime  number `json:"uptime"`

	SystemStats struct {
		CPU number `json:"cpu"`
		Mem number `json:"mem"`
	} `json:"system-stats"`

	SysStats struct {
		Load1    number `json:"loadavg_1"`
		Load5    number `json:"loadavg_5"`
		Load15   number `json:"loadavg_15"`
		MemTotal number `json:"mem_total"`
		MemUsed  number `json:"mem_used"`
	} `json:"sys_stats"`

	RxBytes   *number `json:"rx_bytes"`
	TxBytes   *number `json:"tx_bytes"`
	RxPackets *number `json:"rx_packets"`
	TxPackets *number `json:"tx_packets"`

	Stat struct {
		RxBytes   number `json:"rx_bytes"`
		TxBytes   number `json:"tx_bytes"`
		RxPackets number `json:"rx_packets"`
		TxPackets number `json:"tx_packets"`
	} `json:"stat"`
}

func (r rawDevice) normalize() Device {
	return Device{
		ID:            r.ID,
		Name:          r.Name,
		MAC:           r.MAC,
		Type:          r.Type,
		Model:         r.Model,
		Version:       r.Version,
		Adopted:       r.Adopted,
		State:         r.State.Value,
		Uptime:        r.Uptime.Value,
		CPUPercent:    r.SystemStats.CPU.Value,
		MemoryPercent: r.SystemStats.Mem.Value,
		Load1:         r.SysStats.Load1.Value,
		Load5:         r.SysStats.Load5.Value,
		Load15:        r.SysStats.Load15.Value,
		MemTotal:      r.SysStats.MemTotal.Value,
		MemUsed:       r.SysStats.MemUsed.Value,
		RxBytes:       r.RxBytes.or(r.Stat.RxBytes),
		TxBytes:       r.TxBytes.or(r.Stat.TxBytes),
		RxPackets:     r.RxPackets.or(r.Stat.RxPackets),
		TxPackets:     r.TxPackets.or(r.Stat.TxPackets),
	}
}

type rawClient struct {
	ID       string `json:"_id"`
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Network  string `json:"network"`
	APMAC    string `json:"ap_mac"`
	Guest    bool   `json:"is_guest"`
	Wired    bool   `json:"is_wired"`
	Signal   number `json:"signal"`
	Uptime   number `json:"uptime"`
	RxBytes  number `json:"rx_bytes"`
	TxBytes  number `json:"tx_bytes"`
}

func (r rawClient) normalize() Client {
	return Client{
		ID:        r.ID,
		MAC:       r.MAC,
		Hostname:  r.Hostname,
		Name:      r.Name,
		IP:        r.IP,
		Network:   r.Network,
		APMAC:     r.APMAC,
		Guest:     r.Guest,
		Wired:     r.Wired,
		Signal:    r.Signal.Value,
		HasSignal: r.Signal.Valid && !r.Wired,
		Uptime:    r.Uptime.Value,
		RxBytes:   r.RxBytes.Value,
		TxBytes:   r.TxBytes.Value,
	}
}

// rawSite covers both the classic ("_id") and integration ("id") shapes.
type rawSite struct {
	ClassicID string `json:"_id"`
	ID        string `json:"id"`
}

type integrationPage struct {
	Offset     int                `json:"offset"`
	Limit      int                `json:"limit"`
	Count      int                `json:"count"`
	TotalCount int                `json:"totalCount"`
	Data       *[]json.RawMessage `json:"data"`
}

var errMissingData = errors.New("missing data array")

// decodeRecord decodes one data element. Anything other than a JSON object
// is rejected.
func decodeRecord(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("not an object")
	}
	return json.Unmarshal(trimmed, v)
}
