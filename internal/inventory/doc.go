// Package inventory fetches the device, client and site lists of one UniFi
// site and normalizes them into a [Snapshot].
//
// Malformed records are skipped and counted; only a broken envelope or a
// failed request fails a fetch.
package inventory
