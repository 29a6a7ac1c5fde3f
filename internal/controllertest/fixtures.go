package controllertest

// Sample inventory in the shapes a UniFi Network controller returns,
// including the quirks the normalizer must absorb: load averages as strings,
// a device with null CPU, and a wired client without a signal.
const (
	SampleDevices = `[
  {"_id":"5f1a0001","name":"Office AP","mac":"74:83:c2:00:00:01","type":"uap","model":"U6LR","version":"6.6.55",
   "adopted":true,"state":1,"uptime":864000,
   "system-stats":{"cpu":"7.5","mem":"41.2"},
   "sys_stats":{"loadavg_1":"0.12","loadavg_5":"0.08","loadavg_15":"0.05","mem_total":1018212352,"mem_used":419430400},
   "rx_bytes":123456789,"tx_bytes":987654321,"rx_packets":1200345,"tx_packets":2300456},
  {"_id":"5f1a0002","name":"Core Switch","mac":"74:83:c2:00:00:02","type":"usw","model":"US24P250","version":"6.6.61",
   "adopted":true,"state":1,"uptime":1728000,
   "system-stats":{"cpu":null,"mem":"22.0"},
   "sys_stats":{"loadavg_1":"1.01","loadavg_5":"0.95","loadavg_15":"0.90"},
   "stat":{"rx_bytes":555000,"tx_bytes":444000,"rx_packets":5550,"tx_packets":4440}},
  {"_id":"5f1a0003","name":"Gateway","mac":"74:83:c2:00:00:03","type":"ugw","model":"UXG","version":"4.0.6",
   "adopted":true,"state":1,"uptime":"432000"}
]`

	SampleClients = `[
  {"_id":"c001","mac":"a4:83:e7:00:00:01","hostname":"alice-laptop","name":"Alice","ip":"192.168.1.20",
   "network":"LAN","ap_mac":"74:83:c2:00:00:01","is_guest":false,"is_wired":false,"signal":-58,
   "uptime":3600,"rx_bytes":10485760,"tx_bytes":2097152},
  {"_id":"c002","mac":"a4:83:e7:00:00:02","hostname":"nas","ip":"192.168.1.5",
   "network":"LAN","is_wired":true,"uptime":86400,"rx_bytes":5368709120,"tx_bytes":1073741824},
  {"_id":"c003","mac":"a4:83:e7:00:00:03","hostname":"guest-phone","ip":"10.0.50.12",
   "network":"Guest","ap_mac":"74:83:c2:00:00:01","is_guest":true,"signal":-71,"uptime":600}
]`

	SampleSites = `[{"_id":"s1","name":"default","desc":"Default"},{"_id":"s2","name":"branch","desc":"Branch Office"}]`
)

// NewSample returns a fake controller loaded with the sample inventory.
func NewSample() *Controller {
	c := New()
	c.SetDevices(SampleDevices)
	c.SetClients(SampleClients)
	c.SetSites(SampleSites)
	return c
}
