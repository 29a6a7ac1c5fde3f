// Package controllertest provides a fake UniFi controller for tests and
// local runs.
//
// The fake implements the login exchange, the classic site API
// (/api/s/{site}/stat/device, /api/s/{site}/stat/sta, /api/self/sites) and
// the API-key variants under /proxy/network. Responses, forced 401s and
// latency can be scripted per path, and every request is counted.
package controllertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// SessionCookie is the cookie name issued by the fake login.
const SessionCookie = "unifises"

// Default credentials accepted by a new [Controller].
const (
	DefaultUsername = "admin"
	DefaultPassword = "secret"
	DefaultAPIKey   = "test-api-key"
	DefaultSite     = "default"
)

const loginRequiredBody = `{"meta":{"rc":"error","msg":"api.err.LoginRequired"},"data":[]}`

type override struct {
	status int
	body   string
}

// Controller is a scriptable fake UniFi controller. It is safe for
// concurrent use.
type Controller struct {
	mu sync.Mutex

	username string
	password string
	apiKey   string
	site     string

	devices string
	clients string
	sites   string

	sessions   map[string]bool
	nextID     int
	loginFails bool
	cookieTTL  time.Duration
	rejectNext map[string]int
	overrides  map[string]override
	latency    time.Duration

	logins   int
	requests map[string]int
	cookies  []string
}

// New returns a fake controller with default credentials and empty inventories.
func New() *Controller {
	return &Controller{
		username:   DefaultUsername,
		password:   DefaultPassword,
		apiKey:     DefaultAPIKey,
		site:       DefaultSite,
		devices:    "[]",
		clients:    "[]",
		sites:      `[{"_id":"s1","name":"default","desc":"Default"}]`,
		sessions:   make(map[string]bool),
		rejectNext: make(map[string]int),
		overrides:  make(map[string]override),
		requests:   make(map[string]int),
	}
}

// Serve starts an httptest server backed by the controller.
// The caller must Close it.
func (c *Controller) Serve() *httptest.Server {
	return httptest.NewServer(c.Handler())
}

// Handler returns the HTTP handler implementing the fake API.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", c.handleLogin)

	for _, prefix := range []string{"", "/proxy/network"} {
		mux.HandleFunc("GET "+prefix+"/api/s/{site}/stat/device", c.handleSiteData(func() string { return c.devices }))
		mux.HandleFunc("GET "+prefix+"/api/s/{site}/stat/sta", c.handleSiteData(func() string { return c.clients }))
		mux.HandleFunc("GET "+prefix+"/api/self/sites", c.handleSites)
	}
	mux.HandleFunc("GET /proxy/network/integration/v1/sites", c.handleIntegrationSites)

	return mux
}

// SetDevices sets the JSON array returned as the device inventory.
func (c *Controller) SetDevices(data string) {
	c.mu.Lock()
	c.devices = data
	c.mu.Unlock()
}

// SetClients sets the JSON array returned as the client inventory.
func (c *Controller) SetClients(data string) {
	c.mu.Lock()
	c.clients = data
	c.mu.Unlock()
}

// SetSites sets the JSON array of sites. The classic API returns it as is;
// the integration API maps "_id" and "name" onto its own shape.
func (c *Controller) SetSites(data string) {
	c.mu.Lock()
	c.sites = data
	c.mu.Unlock()
}

// SetResponse makes every request to path answer with status and body,
// bypassing authentication. An empty body sends nothing.
func (c *Controller) SetResponse(path string, status int, body string) {
	c.mu.Lock()
	c.overrides[path] = override{status: status, body: body}
	c.mu.Unlock()
}

// ClearResponse removes an override set by [Controller.SetResponse].
func (c *Controller) ClearResponse(path string) {
	c.mu.Lock()
	delete(c.overrides, path)
	c.mu.Unlock()
}

// RejectNext makes the next n authenticated requests to path answer 401,
// regardless of the credential presented.
func (c *Controller) RejectNext(path string, n int) {
	c.mu.Lock()
	c.rejectNext[path] += n
	c.mu.Unlock()
}

// ExpireSessions invalidates every cookie issued so far.
func (c *Controller) ExpireSessions() {
	c.mu.Lock()
	c.sessions = make(map[string]bool)
	c.mu.Unlock()
}

// SetLoginFailure makes the login exchange reject valid credentials.
func (c *Controller) SetLoginFailure(fail bool) {
	c.mu.Lock()
	c.loginFails = fail
	c.mu.Unlock()
}

// SetCookieTTL sets Max-Age on issued cookies. Zero omits it.
func (c *Controller) SetCookieTTL(ttl time.Duration) {
	c.mu.Lock()
	c.cookieTTL = ttl
	c.mu.Unlock()
}

// SetLatency delays every data response by d.
func (c *Controller) SetLatency(d time.Duration) {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
}

// Logins returns the number of login exchanges received, successful or not.
func (c *Controller) Logins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logins
}

// Requests returns the number of requests received for path.
func (c *Controller) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[path]
}

// IssuedCookies returns the cookie values issued by successful logins, in order.
func (c *Controller) IssuedCookies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cookies...)
}

func (c *Controller) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	decodeErr := json.NewDecoder(r.Body).Decode(&creds)

	c.mu.Lock()
	c.logins++
	c.requests[r.URL.Path]++
	ok := decodeErr == nil && !c.loginFails &&
		creds.Username == c.username && creds.Password == c.password
	var value string
	ttl := c.cookieTTL
	if ok {
		c.nextID++
		value = fmt.Sprintf("session-%d", c.nextID)
		c.sessions[value] = true
		c.cookies = append(c.cookies, value)
	}
	c.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, `{"meta":{"rc":"error","msg":"api.err.Invalid"},"data":[]}`)
		return
	}

	cookie := &http.Cookie{Name: SessionCookie, Value: value, Path: "/", HttpOnly: true}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, cookie)
	http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf-" + value, Path: "/"})
	writeJSON(w, http.StatusOK, `{"meta":{"rc":"ok"},"data":[]}`)
}

func (c *Controller) handleSiteData(data func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.admit(w, r) {
			return
		}

		c.mu.Lock()
		wrongSite := r.PathValue("site") != c.site
		payload := data()
		c.mu.Unlock()

		if wrongSite {
			writeJSON(w, http.StatusBadRequest, `{"meta":{"rc":"error","msg":"api.err.NoSiteContext"},"data":[]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"meta":{"rc":"ok"},"data":`+payload+`}`)
	}
}

func (c *Controller) handleSites(w http.ResponseWriter, r *http.Request) {
	if !c.admit(w, r) {
		return
	}

	c.mu.Lock()
	payload := c.sites
	c.mu.Unlock()

	writeJSON(w, http.StatusOK, `{"meta":{"rc":"ok"},"data":`+payload+`}`)
}

func (c *Controller) handleIntegrationSites(w http.ResponseWriter, r *http.Request) {
	if !c.admit(w, r) {
		return
	}

	c.mu.Lock()
	payload := c.sites
	c.mu.Unlock()

	var classic []map[string]any
	if err := json.Unmarshal([]byte(payload), &classic); err != nil {
		writeJSON(w, http.StatusInternalServerError, `{"error":"bad fixture"}`)
		return
	}

	sites := make([]map[string]any, 0, len(classic))
	for _, s := range classic {
		sites = append(sites, map[string]any{
			"id":                s["_id"],
			"internalReference": s["name"],
			"name":              s["desc"],
		})
	}

	out, _ := json.Marshal(map[string]any{
		"offset":     0,
		"limit":      25,
		"count":      len(sites),
		"totalCount": len(sites),
		"data":       sites,
	})
	writeJSON(w, http.StatusOK, string(out))
}

// admit counts the request, applies overrides and forced 401s, and checks
// the credential. It reports whether the handler should continue.
func (c *Controller) admit(w http.ResponseWriter, r *http.Request) bool {
	path := r.URL.Path

	c.mu.Lock()
	c.requests[path]++
	latency := c.latency
	ov, hasOverride := c.overrides[path]
	forced := c.rejectNext[path] > 0
	if forced && !hasOverride {
		c.rejectNext[path]--
	}
	authorized := c.authorized(r)
	c.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	switch {
	case hasOverride:
		if ov.body == "" {
			w.WriteHeader(ov.status)
		} else {
			writeJSON(w, ov.status, ov.body)
		}
		return false
	case forced, !authorized:
		writeJSON(w, http.StatusUnauthorized, loginRequiredBody)
		return false
	}
	return true
}

// authorized must be called with c.mu held.
func (c *Controller) authorized(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/proxy/network") {
		return r.Header.Get("X-API-KEY") == c.apiKey
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	return c.sessions[cookie.Value]
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
