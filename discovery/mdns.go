package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name a LAN relay advertises.
	DefaultService = "_smsrelay._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds one resolution.
	DefaultScanTimeout = 3 * time.Second
	// DefaultPath is the relay mount point used when the TXT record carries none.
	DefaultPath = "/"
)

// ErrNoRelay means no relay answered within the scan window.
var ErrNoRelay = errors.New("discovery: no relay found on the local network")

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls relay resolution.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration
	// Instance restricts resolution to one advertised relay. Empty accepts any.
	Instance string

	browseFn browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	return out
}

// Endpoint is a relay advertised on the local network.
type Endpoint struct {
	Instance  string
	HostName  string
	Port      int
	Path      string
	TLS       bool
	Addresses []string
}

// URL returns the relay base URL, preferring a literal address over the host name.
func (e Endpoint) URL() string {
	scheme := "http"
	if e.TLS {
		scheme = "https"
	}
	host := strings.TrimSuffix(e.HostName, ".")
	if len(e.Addresses) > 0 {
		host = e.Addresses[0]
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(e.Port)),
		Path:   e.Path,
	}
	return u.String()
}

// Resolve browses for relays and returns the first usable one. The scan ends early
// as soon as an endpoint is found.
func Resolve(ctx context.Context, config Config) (Endpoint, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return Endpoint{}, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return Endpoint{}, fmt.Errorf("browse %s: %w", cfg.Service, err)
	}

	for {
		select {
		case <-scanCtx.Done():
			if err := ctx.Err(); err != nil {
				return Endpoint{}, err
			}
			return Endpoint{}, ErrNoRelay
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, ErrNoRelay
			}
			if entry == nil {
				continue
			}
			endpoint, ok := parseEntry(entry)
			if !ok {
				continue
			}
			if cfg.Instance != "" && endpoint.Instance != cfg.Instance {
				continue
			}
			return endpoint, nil
		}
	}
}

func parseEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry.Port <= 0 {
		return Endpoint{}, false
	}
	txt := txtToMap(entry.Text)

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range entry.AddrIPv4 {
		appendAddress(&addresses, seen, ip)
	}
	ipv4 := len(addresses)
	for _, ip := range entry.AddrIPv6 {
		appendAddress(&addresses, seen, ip)
	}
	sort.Strings(addresses[:ipv4])
	sort.Strings(addresses[ipv4:])

	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return Endpoint{}, false
	}

	path := txt["path"]
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	tls, _ := strconv.ParseBool(txt["tls"])

	return Endpoint{
		Instance:  strings.TrimSpace(entry.Instance),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Path:      path,
		TLS:       tls,
		Addresses: addresses,
	}, true
}

func appendAddress(out *[]string, seen map[string]struct{}, ip net.IP) {
	if ip == nil {
		return
	}
	raw := ip.String()
	if _, exists := seen[raw]; exists {
		return
	}
	seen[raw] = struct{}{}
	*out = append(*out, raw)
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
