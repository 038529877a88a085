// Package knownsource holds the operator's allowlist of trusted sign-in
// source IPs. The Registry owns the in-process set and a Store persists it.
package knownsource

import (
	"context"
	"errors"
	"sort"
)

// ErrCorrupt is returned by stores whose persisted state cannot be decoded.
var ErrCorrupt = errors.New("known-source state is corrupt")

// Store persists the known-source set. Several processes may share one
// Store (the daemon and sentractl), so Add is a read-modify-write against
// the persisted state, never a blind overwrite.
type Store interface {
	Load(ctx context.Context) (Set, error)
	// Add merges ip into the persisted set and returns the set as persisted
	// afterwards, including other writers' additions. added is false when
	// ip was already present.
	Add(ctx context.Context, ip string) (persisted Set, added bool, err error)
}

// Set is an unordered set of IP strings.
type Set map[string]struct{}

// NewSet returns a set holding ips.
func NewSet(ips ...string) Set {
	s := make(Set, len(ips))
	for _, ip := range ips {
		s[ip] = struct{}{}
	}
	return s
}

// Contains reports whether ip is in the set.
func (s Set) Contains(ip string) bool {
	_, ok := s[ip]
	return ok
}

// Add inserts ip and reports whether the set changed.
func (s Set) Add(ip string) bool {
	if s.Contains(ip) {
		return false
	}
	s[ip] = struct{}{}
	return true
}

// Len returns the number of IPs.
func (s Set) Len() int { return len(s) }

// Sorted returns the IPs in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for ip := range s {
		out = append(out, ip)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	cp := make(Set, len(s))
	for ip := range s {
		cp[ip] = struct{}{}
	}
	return cp
}

// Equal reports whether both sets hold the same IPs.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for ip := range s {
		if !o.Contains(ip) {
			return false
		}
	}
	return true
}
