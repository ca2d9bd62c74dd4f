package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestScanCollectsRecords(t *testing.T) {
	cfg := Config{
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService {
				t.Errorf("service = %q", service)
			}
			if domain != DefaultDomain {
				t.Errorf("domain = %q", domain)
			}
			go func() {
				entries <- &zeroconf.ServiceEntry{
					ServiceRecord: zeroconf.ServiceRecord{Instance: "Living Room"},
					Port:          49152,
					Text:          []string{"Name=Living Room TV", "UniqueIdentifier=atv-1", "malformed"},
					AddrIPv4:      []net.IP{net.IPv4(169, 254, 1, 2), net.IPv4(192, 168, 1, 10)},
				}
				close(entries)
			}()
			return nil
		},
	}

	records, err := Scan(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	r := records[0]
	if r.Name != "Living Room" {
		t.Fatalf("name = %q", r.Name)
	}
	if r.Port != 49152 {
		t.Fatalf("port = %d", r.Port)
	}
	if r.DisplayName() != "Living Room TV" {
		t.Fatalf("display name = %q", r.DisplayName())
	}
	if r.UniqueIdentifier() != "atv-1" {
		t.Fatalf("unique identifier = %q", r.UniqueIdentifier())
	}
	if _, ok := r.TXT["malformed"]; ok {
		t.Fatalf("entries without '=' must be skipped")
	}
	if got := r.Address(); !got.Equal(net.IPv4(192, 168, 1, 10)) {
		t.Fatalf("preferred address = %v", got)
	}
}

func TestServiceRecordAddressPreference(t *testing.T) {
	a := net.IPv4(10, 0, 0, 1)
	b := net.IPv4(10, 0, 0, 2)
	index := func(i int) *int { return &i }

	// The zero value must give the default preference, so hand-built
	// records behave like scanned ones.
	cases := []struct {
		name   string
		record ServiceRecord
		want   net.IP
	}{
		{"empty", ServiceRecord{}, nil},
		{"single", ServiceRecord{Addresses: []net.IP{a}}, a},
		{"prefers second", ServiceRecord{Addresses: []net.IP{a, b}}, b},
		{"index override", ServiceRecord{Addresses: []net.IP{a, b}, AddressIndex: index(0)}, a},
		{"index out of range", ServiceRecord{Addresses: []net.IP{a, b}, AddressIndex: index(5)}, b},
	}
	for _, tc := range cases {
		got := tc.record.Address()
		if tc.want == nil {
			if got != nil {
				t.Fatalf("%s: address = %v, want nil", tc.name, got)
			}
			continue
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%s: address = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestServiceRecordDisplayNameFallsBack(t *testing.T) {
	r := ServiceRecord{Name: "instance", TXT: map[string]string{}}
	if r.DisplayName() != "instance" {
		t.Fatalf("display name = %q", r.DisplayName())
	}
}
