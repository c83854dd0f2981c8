// Package mx implements ports.MXResolver via DNS-over-HTTPS, with an LRU
// result cache and singleflight de-duplication so concurrent lookups for the
// same domain collapse into one upstream call (§4.8).
package mx

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/stoik/fraud-shield/internal/domain"
	"github.com/stoik/fraud-shield/internal/domain/features"
	"github.com/stoik/fraud-shield/internal/ports"
)

const (
	defaultTimeout  = 200 * time.Millisecond
	defaultCacheTTL = 300 * time.Second
	defaultCacheCap = 10000

	dohEndpoint = "https://cloudflare-dns.com/dns-query"
	typeMX      = 15
)

// dohAnswer mirrors the subset of the RFC 8484 JSON response this resolver
// consumes. JSON tags follow the wire format's own casing (name, type and
// data are lowercase; TTL, Status and Answer are capitalized), not Go style.
type dohAnswer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

type dohResponse struct {
	Status int         `json:"Status"`
	Answer []dohAnswer `json:"Answer"`
}

type cacheEntry struct {
	result  ports.MXLookupResult
	ok      bool
	expires time.Time
}

// Resolver is a bounded-timeout, LRU-cached, singleflight-deduplicated
// ports.MXResolver backed by a DNS-over-HTTPS provider.
type Resolver struct {
	httpClient *http.Client
	log        zerolog.Logger
	timeout    time.Duration
	ttl        time.Duration
	endpoint   string

	sf singleflight.Group

	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int
}

type lruNode struct {
	domain string
	entry  cacheEntry
}

// Option configures a Resolver at construction time.
type Option func(*Resolver)

// WithTimeout overrides the default 200ms per-lookup bound.
func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

// WithCacheTTL overrides the default 300s cache lifetime for results.
func WithCacheTTL(d time.Duration) Option { return func(r *Resolver) { r.ttl = d } }

// WithCacheCapacity overrides the default 10000-entry LRU bound.
func WithCacheCapacity(n int) Option {
	return func(r *Resolver) { r.capacity = n }
}

// WithEndpoint overrides the DoH endpoint, primarily for tests.
func WithEndpoint(u string) Option { return func(r *Resolver) { r.endpoint = u } }

// WithHTTPClient overrides the underlying http.Client, primarily for tests.
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.httpClient = c } }

// New builds a Resolver with the documented defaults (§4.8): 200ms timeout,
// 300s TTL, 10000-entry LRU cache, Cloudflare's DoH endpoint.
func New(log zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		// No client-level timeout: each lookup is bounded by r.timeout via
		// its request context, so WithTimeout can raise or lower the bound.
		httpClient: &http.Client{},
		log:        log.With().Str("component", "mx_resolver").Logger(),
		timeout:    defaultTimeout,
		ttl:        defaultCacheTTL,
		endpoint:   dohEndpoint,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		capacity:   defaultCacheCap,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements ports.MXResolver. The second return value is false only
// when the lookup genuinely failed or timed out — the caller treats that as
// "null the MX features", never as an error to propagate (§4.1, §7).
func (r *Resolver) Resolve(ctx context.Context, dom string) (ports.MXLookupResult, bool) {
	dom = strings.ToLower(strings.TrimSuffix(dom, "."))

	if res, ok, hit := r.lookupCache(dom); hit {
		return res, ok
	}

	v, err, _ := r.sf.Do(dom, func() (any, error) {
		result, ok := r.fetch(ctx, dom)
		r.store(dom, result, ok)
		return cacheEntry{result: result, ok: ok}, nil
	})
	if err != nil {
		return ports.MXLookupResult{}, false
	}
	ce := v.(cacheEntry)
	return ce.result, ce.ok
}

func (r *Resolver) fetch(ctx context.Context, dom string) (ports.MXLookupResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("name", dom)
	q.Set("type", "MX")
	reqURL := r.endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		r.log.Warn().Err(err).Str("domain", dom).Msg("mx lookup request build failed")
		return ports.MXLookupResult{}, false
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("domain", dom).Msg("mx lookup failed or timed out")
		return ports.MXLookupResult{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Debug().Int("status", resp.StatusCode).Str("domain", dom).Msg("mx lookup non-200")
		return ports.MXLookupResult{}, false
	}

	var parsed dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		r.log.Warn().Err(err).Str("domain", dom).Msg("mx lookup response decode failed")
		return ports.MXLookupResult{}, false
	}

	hosts := extractHosts(parsed.Answer)
	if len(hosts) == 0 {
		return ports.MXLookupResult{HasRecords: false}, true
	}

	bucket := classifyBucket(hosts)
	return ports.MXLookupResult{HasRecords: true, Hosts: hosts, Bucket: bucket}, true
}

// extractHosts parses "<preference> <host>" MX record data, strips the
// trailing root label, and sorts by ascending preference.
func extractHosts(answers []dohAnswer) []string {
	type pref struct {
		priority int
		host     string
	}
	var prefs []pref
	for _, a := range answers {
		if a.Type != typeMX {
			continue
		}
		fields := strings.Fields(a.Data)
		if len(fields) != 2 {
			continue
		}
		var priority int
		if _, err := fmt.Sscanf(fields[0], "%d", &priority); err != nil {
			continue
		}
		prefs = append(prefs, pref{priority: priority, host: strings.ToLower(strings.TrimSuffix(fields[1], "."))})
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].priority < prefs[j].priority })

	hosts := make([]string, 0, len(prefs))
	for _, p := range prefs {
		hosts = append(hosts, p.host)
	}
	return hosts
}

// classifyBucket buckets on the highest-priority (first) MX host, since
// multi-provider MX sets are rare and the first host dominates deliverability.
func classifyBucket(hosts []string) domain.MXProviderBucket {
	if len(hosts) == 0 {
		return domain.MXProviderUnknown
	}
	return features.ClassifyMXBucket(hosts[0])
}

func (r *Resolver) lookupCache(dom string) (ports.MXLookupResult, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.entries[dom]
	if !ok {
		return ports.MXLookupResult{}, false, false
	}
	node := el.Value.(*lruNode)
	if time.Now().After(node.entry.expires) {
		r.order.Remove(el)
		delete(r.entries, dom)
		return ports.MXLookupResult{}, false, false
	}
	r.order.MoveToFront(el)
	return node.entry.result, node.entry.ok, true
}

func (r *Resolver) store(dom string, result ports.MXLookupResult, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := cacheEntry{result: result, ok: ok, expires: time.Now().Add(r.ttl)}
	if el, exists := r.entries[dom]; exists {
		el.Value.(*lruNode).entry = entry
		r.order.MoveToFront(el)
		return
	}

	el := r.order.PushFront(&lruNode{domain: dom, entry: entry})
	r.entries[dom] = el

	for r.order.Len() > r.capacity {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.entries, oldest.Value.(*lruNode).domain)
	}
}
