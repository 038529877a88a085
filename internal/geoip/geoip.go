// Package geoip resolves IP addresses to ISO country codes from a MaxMind
// database. Results are shown to the operator and never affect scoring.
package geoip

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Lookup resolves an IP to an ISO country code, or "" when unknown.
type Lookup interface {
	Country(ip string) string
}

// Nop never resolves anything.
type Nop struct{}

// Country implements Lookup.
func (Nop) Country(string) string { return "" }

// countryReader is the subset of *geoip2.Reader used here.
type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Reader is a Lookup backed by a GeoLite2/GeoIP2 Country or City database.
type Reader struct {
	mu sync.Mutex
	db countryReader
}

// Open loads the database at path.
func Open(path string) (*Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip db %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

// FromBytes loads a database image already in memory.
func FromBytes(b []byte) (*Reader, error) {
	db, err := geoip2.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("load geoip db: %w", err)
	}
	return &Reader{db: db}, nil
}

// Country implements Lookup.
func (r *Reader) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	r.mu.Lock()
	db := r.db
	r.mu.Unlock()
	if db == nil {
		return ""
	}
	rec, err := db.Country(parsed)
	if err != nil || rec == nil {
		return ""
	}
	return rec.Country.IsoCode
}

// Close releases the database. Lookups after Close return "".
func (r *Reader) Close() error {
	r.mu.Lock()
	db := r.db
	r.db = nil
	r.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}
