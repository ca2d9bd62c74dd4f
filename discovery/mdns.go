// Package discovery browses the local network for MediaRemote services and
// produces the service records the device façade consumes.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the MediaRemote mDNS service name.
	DefaultService = "_mediaremotetv._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
)

// TXT record keys advertised by MediaRemote services.
const (
	TXTName             = "Name"
	TXTUniqueIdentifier = "UniqueIdentifier"
)

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls a discovery scan.
type Config struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration

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
	if out.browseFn == nil {
		out.browseFn = func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			resolver, err := zeroconf.NewResolver(nil)
			if err != nil {
				return fmt.Errorf("create mDNS resolver: %w", err)
			}
			return resolver.Browse(ctx, service, domain, entries)
		}
	}
	return out
}

// ServiceRecord describes one discovered MediaRemote service.
type ServiceRecord struct {
	Name      string
	Addresses []net.IP
	Port      int
	TXT       map[string]string

	// AddressIndex overrides the default address preference. Nil means
	// default: the second address when more than one exists (empirically the
	// routable IPv4), otherwise the first.
	AddressIndex *int
}

// Address returns the preferred address for connecting.
func (r ServiceRecord) Address() net.IP {
	if len(r.Addresses) == 0 {
		return nil
	}
	if r.AddressIndex != nil && *r.AddressIndex >= 0 && *r.AddressIndex < len(r.Addresses) {
		return r.Addresses[*r.AddressIndex]
	}
	if len(r.Addresses) > 1 {
		return r.Addresses[1]
	}
	return r.Addresses[0]
}

// DisplayName returns the advertised device name, preferring the TXT record.
func (r ServiceRecord) DisplayName() string {
	if name := r.TXT[TXTName]; name != "" {
		return name
	}
	return r.Name
}

// UniqueIdentifier returns the device identifier from the TXT record.
func (r ServiceRecord) UniqueIdentifier() string {
	return r.TXT[TXTUniqueIdentifier]
}

// Scan browses for MediaRemote services until the scan timeout elapses and
// returns all discovered records.
func Scan(ctx context.Context, config Config) ([]ServiceRecord, error) {
	cfg := config.withDefaults()

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := cfg.browseFn(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", cfg.Service, err)
	}

	var records []ServiceRecord
	for entry := range entries {
		if entry == nil {
			continue
		}
		records = append(records, recordFromEntry(entry))
	}
	return records, nil
}

func recordFromEntry(entry *zeroconf.ServiceEntry) ServiceRecord {
	record := ServiceRecord{
		Name: entry.Instance,
		Port: entry.Port,
		TXT:  parseTXT(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		record.Addresses = append(record.Addresses, ip)
	}
	for _, ip := range entry.AddrIPv6 {
		record.Addresses = append(record.Addresses, ip)
	}
	return record
}

func parseTXT(text []string) map[string]string {
	txt := make(map[string]string, len(text))
	for _, kv := range text {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		txt[key] = value
	}
	return txt
}
