package meshcore

import (
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
)

// Filters is the active view filter set. All populated dimensions must
// match (AND semantics). The search box accepts multiple whitespace
// separated terms; a packet matches only when every term is found
// somewhere in its text fields.
type Filters struct {
	WindowSec int64
	Portnums  map[int32]struct{}
	Channel   *int32
	Gateway   string

	terms   []string
	matcher *ahocorasick.Matcher
}

func NewFilters() Filters {
	return Filters{}
}

// SetPortnums replaces the port filter; nil or empty means all ports.
func (f *Filters) SetPortnums(ports []int32) {
	if len(ports) == 0 {
		f.Portnums = nil
		return
	}
	f.Portnums = make(map[int32]struct{}, len(ports))
	for _, p := range ports {
		f.Portnums[p] = struct{}{}
	}
}

// SetSearch rebuilds the term matcher from a raw query string. Terms are
// de-duplicated: the matcher reports each distinct pattern once, so a
// repeated word must count as one required hit.
func (f *Filters) SetSearch(query string) {
	f.terms = nil
	f.matcher = nil
	seen := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		f.terms = append(f.terms, t)
	}
	if len(f.terms) > 0 {
		f.matcher = ahocorasick.NewStringMatcher(f.terms)
	}
}

// Active reports whether any dimension is constrained.
func (f *Filters) Active() bool {
	return f.WindowSec > 0 || len(f.Portnums) > 0 || f.Channel != nil ||
		f.Gateway != "" || len(f.terms) > 0
}

// Match tests one packet against every active dimension.
func (f *Filters) Match(p *Packet, now time.Time) bool {
	if p == nil {
		return false
	}
	if f.WindowSec > 0 && p.CreatedAt < now.Unix()-f.WindowSec {
		return false
	}
	if len(f.Portnums) > 0 {
		if p.Portnum == nil {
			return false
		}
		if _, ok := f.Portnums[*p.Portnum]; !ok {
			return false
		}
	}
	if f.Channel != nil {
		if p.Channel == nil || *p.Channel != *f.Channel {
			return false
		}
	}
	if f.Gateway != "" && p.GatewayID != f.Gateway {
		return false
	}
	if f.matcher != nil {
		hay := strings.ToLower(strings.Join([]string{
			p.FromLabel, p.ToLabel, p.Portname, p.Text, p.GatewayID,
		}, " "))
		if tx, ok := p.Details.(*TextDetails); ok {
			hay += " " + strings.ToLower(tx.Text)
		}
		// Every term has to hit; Match returns the set of matched
		// pattern indices.
		if len(f.matcher.Match([]byte(hay))) < len(f.terms) {
			return false
		}
	}
	return true
}

// Apply returns the packets that pass the filter set, preserving order.
// The input slice is never mutated, so applying twice is idempotent.
func (f *Filters) Apply(packets []*Packet, now time.Time) []*Packet {
	out := make([]*Packet, 0, len(packets))
	for _, p := range packets {
		if f.Match(p, now) {
			out = append(out, p)
		}
	}
	return out
}
