package geoip

import (
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/oschwald/geoip2-golang"
)

type mockDB struct {
	codes  map[string]string
	closed bool
}

func (m *mockDB) Country(ip net.IP) (*geoip2.Country, error) {
	code, ok := m.codes[ip.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	rec := &geoip2.Country{}
	rec.Country.IsoCode = code
	return rec, nil
}

func (m *mockDB) Close() error {
	m.closed = true
	return nil
}

func TestReader_Country(t *testing.T) {
	t.Parallel()

	db := &mockDB{codes: map[string]string{"5.6.7.8": "RU"}}
	r := &Reader{db: db}

	tests := []struct {
		ip   string
		want string
	}{
		{"5.6.7.8", "RU"},
		{"1.1.1.1", ""},
		{"not-an-ip", ""},
	}
	for _, tt := range tests {
		if got := r.Country(tt.ip); got != tt.want {
			t.Errorf("Country(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !db.closed {
		t.Error("expected underlying db closed")
	}
	if got := r.Country("5.6.7.8"); got != "" {
		t.Errorf("after Close got %q", got)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Open(filepath.Join(t.TempDir(), "missing.mmdb")); err == nil {
		t.Error("expected error")
	}
}

func TestFromBytes_Garbage(t *testing.T) {
	t.Parallel()

	if _, err := FromBytes([]byte("not a maxmind db")); err == nil {
		t.Error("expected error")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var l Lookup = Nop{}
	if got := l.Country("8.8.8.8"); got != "" {
		t.Errorf("got %q", got)
	}
}
