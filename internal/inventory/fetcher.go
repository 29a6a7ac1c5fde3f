package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/unipoll/internal/controller"
)

// proxyPrefix routes classic API paths through the UniFi OS network proxy,
// which is the only surface that accepts API keys.
const proxyPrefix = "/proxy/network"

// Requester performs authenticated controller requests.
// [*controller.Client] satisfies it.
type Requester interface {
	Request(ctx context.Context, method, path string) (controller.Response, error)
	Mode() controller.Mode
}

// Fetcher retrieves and normalizes the inventory of one site.
type Fetcher struct {
	req    Requester
	site   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewFetcher returns a fetcher for site.
func NewFetcher(req Requester, site string, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		req:    req,
		site:   site,
		logger: logger.With().Str("component", "inventory").Logger(),
		now:    time.Now,
	}
}

// Collect fetches devices, clients and sites concurrently and assembles a
// snapshot. If any fetch fails the partial results are discarded and the
// first error is returned.
func (f *Fetcher) Collect(ctx context.Context) (Snapshot, error) {
	var (
		devices DeviceBatch
		clients ClientBatch
		sites   SiteSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		devices, err = f.FetchDevices(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		clients, err = f.FetchClients(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		sites, err = f.FetchSites(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Devices: devices.Devices,
		Clients: clients.Clients,
		Sites:   sites,
		Skipped: Skipped{
			Devices: devices.Skipped,
			Clients: clients.Skipped,
			Sites:   sites.Skipped,
		},
		CollectedAt: f.now(),
	}, nil
}

// FetchDevices retrieves GET /api/s/{site}/stat/device.
func (f *Fetcher) FetchDevices(ctx context.Context) (DeviceBatch, error) {
	records, err := f.fetchList(ctx, "devices", "/api/s/"+f.site+"/stat/device")
	if err != nil {
		return DeviceBatch{}, err
	}

	batch := DeviceBatch{Devices: make([]Device, 0, len(records))}
	seen := make(map[string]struct{}, len(records))
	for i, raw := range records {
		var d rawDevice
		if err := decodeRecord(raw, &d); err != nil {
			f.skip("devices", i, err)
			batch.Skipped++
			continue
		}
		if reason := checkMAC(d.MAC, seen); reason != "" {
			f.skip("devices", i, errors.New(reason))
			batch.Skipped++
			continue
		}
		batch.Devices = append(batch.Devices, d.normalize())
	}
	return batch, nil
}

// FetchClients retrieves GET /api/s/{site}/stat/sta.
func (f *Fetcher) FetchClients(ctx context.Context) (ClientBatch, error) {
	records, err := f.fetchList(ctx, "clients", "/api/s/"+f.site+"/stat/sta")
	if err != nil {
		return ClientBatch{}, err
	}

	batch := ClientBatch{Clients: make([]Client, 0, len(records))}
	seen := make(map[string]struct{}, len(records))
	for i, raw := range records {
		var c rawClient
		if err := decodeRecord(raw, &c); err != nil {
			f.skip("clients", i, err)
			batch.Skipped++
			continue
		}
		if reason := checkMAC(c.MAC, seen); reason != "" {
			f.skip("clients", i, errors.New(reason))
			batch.Skipped++
			continue
		}
		batch.Clients = append(batch.Clients, c.normalize())
	}
	return batch, nil
}

// FetchSites counts the sites visible to the credential. In API-key mode the
// integration API is used; its page envelope differs from the classic one.
func (f *Fetcher) FetchSites(ctx context.Context) (SiteSummary, error) {
	var (
		records []json.RawMessage
		err     error
	)
	if f.req.Mode() == controller.ModeAPIKey {
		records, err = f.fetchIntegrationSites(ctx)
	} else {
		records, err = f.fetchList(ctx, "sites", "/api/self/sites")
	}
	if err != nil {
		return SiteSummary{}, err
	}

	var summary SiteSummary
	for i, raw := range records {
		var s rawSite
		if err := decodeRecord(raw, &s); err != nil {
			f.skip("sites", i, err)
			summary.Skipped++
			continue
		}
		if s.ClassicID == "" && s.ID == "" {
			f.skip("sites", i, errors.New("missing id"))
			summary.Skipped++
			continue
		}
		summary.Count++
	}
	return summary, nil
}

// fetchList performs a GET and unwraps the classic {meta, data} envelope.
func (f *Fetcher) fetchList(ctx context.Context, resource, path string) ([]json.RawMessage, error) {
	resp, err := f.req.Request(ctx, http.MethodGet, f.path(path))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, &controller.ParseError{Resource: resource, Err: err}
	}
	if env.Meta != nil && env.Meta.RC == "error" {
		return nil, &controller.APIError{StatusCode: resp.StatusCode, Body: env.Meta.Msg}
	}
	if env.Data == nil {
		return nil, &controller.ParseError{Resource: resource, Err: errMissingData}
	}
	return *env.Data, nil
}

func (f *Fetcher) fetchIntegrationSites(ctx context.Context) ([]json.RawMessage, error) {
	resp, err := f.req.Request(ctx, http.MethodGet, proxyPrefix+"/integration/v1/sites")
	if err != nil {
		return nil, err
	}

	var page integrationPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, &controller.ParseError{Resource: "sites", Err: err}
	}
	if page.Data == nil {
		return nil, &controller.ParseError{Resource: "sites", Err: errMissingData}
	}
	if page.TotalCount > page.Count {
		f.logger.Warn().
			Int("count", page.Count).
			Int("total", page.TotalCount).
			Msg("site list is paginated, only the first page is counted")
	}
	return *page.Data, nil
}

func (f *Fetcher) path(p string) string {
	if f.req.Mode() == controller.ModeAPIKey {
		return proxyPrefix + p
	}
	return p
}

func (f *Fetcher) skip(resource string, index int, err error) {
	f.logger.Warn().
		Err(err).
		Str("resource", resource).
		Int("index", index).
		Msg("skipping malformed record")
}

// checkMAC returns a non-empty reason when mac is missing or already seen,
// and records it otherwise.
func checkMAC(mac string, seen map[string]struct{}) string {
	if mac == "" {
		return "missing mac"
	}
	if _, dup := seen[mac]; dup {
		return "duplicate mac " + mac
	}
	seen[mac] = struct{}{}
	return ""
}
