// Package pricing maps inbound request paths to the payment required to
// access them. A table is loaded once from configuration and is immutable
// afterwards; resolution is a pure lookup that always succeeds, falling back
// to the table's default price and network.
//
// Matching policy: an exact literal match always beats a parameterized match
// (a pattern segment starting with ':' matches any single concrete segment).
// When several parameterized patterns match the same path, the one with the
// longest literal prefix wins; remaining ties are broken by configuration
// order. This rule is deterministic where upstream configurations relied on
// insertion order alone.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Endpoint is a single priced path pattern from configuration.
type Endpoint struct {
	// Pattern is the path pattern, e.g. "/api/agents/:id/access-logs".
	Pattern string `json:"pattern"`

	// Price is a decimal price string with currency prefix, e.g. "$0.10".
	Price string `json:"price"`

	// Network optionally overrides the table's default settlement network.
	Network string `json:"network,omitempty"`
}

// Resolution is the outcome of a price lookup.
type Resolution struct {
	// Pattern is the matched pattern, or "" for the default fallback.
	Pattern string

	// Price is the required payment amount.
	Price decimal.Decimal

	// Display is the price as configured, currency prefix included.
	Display string

	// Network is the settlement network for the payment.
	Network string

	// Default reports whether the fallback price was applied.
	Default bool
}

type entry struct {
	pattern  string
	segments []string
	price    decimal.Decimal
	display  string
	network  string
	literal  bool
	// prefixLen is the number of leading literal segments, used to rank
	// overlapping parameterized patterns.
	prefixLen int
}

// Table resolves request paths to required payments. Construct with NewTable
// and populate with Add before serving; a populated table is read-only and
// safe for concurrent use.
type Table struct {
	entries        []entry
	exact          map[string]int
	defaultPrice   decimal.Decimal
	defaultDisplay string
	defaultNetwork string
}

// NewTable creates a pricing table with the given default price (applied to
// any path no pattern matches) and default settlement network.
func NewTable(defaultPrice, defaultNetwork string) (*Table, error) {
	price, err := ParsePrice(defaultPrice)
	if err != nil {
		return nil, fmt.Errorf("default price: %w", err)
	}
	return &Table{
		exact:          make(map[string]int),
		defaultPrice:   price,
		defaultDisplay: defaultPrice,
		defaultNetwork: defaultNetwork,
	}, nil
}

// Add registers a priced endpoint. Insertion order is significant for
// patterns with equal literal prefixes.
func (t *Table) Add(ep Endpoint) error {
	price, err := ParsePrice(ep.Price)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", ep.Pattern, err)
	}
	if !strings.HasPrefix(ep.Pattern, "/") {
		return fmt.Errorf("pattern %q: must start with /", ep.Pattern)
	}

	network := ep.Network
	if network == "" {
		network = t.defaultNetwork
	}

	segments := splitPath(ep.Pattern)
	literal := true
	prefixLen := len(segments)
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			if literal {
				prefixLen = i
			}
			literal = false
		}
	}

	t.entries = append(t.entries, entry{
		pattern:   ep.Pattern,
		segments:  segments,
		price:     price,
		display:   ep.Price,
		network:   network,
		literal:   literal,
		prefixLen: prefixLen,
	})
	if literal {
		if _, dup := t.exact[ep.Pattern]; !dup {
			t.exact[ep.Pattern] = len(t.entries) - 1
		}
	}
	return nil
}

// Len returns the number of configured endpoints.
func (t *Table) Len() int { return len(t.entries) }

// Resolve maps a request to its required payment. The method is accepted for
// interface symmetry but pricing currently keys on path alone. Resolve never
// fails: unmatched paths get the default price.
func (t *Table) Resolve(method, path string) Resolution {
	_ = method

	path = normalize(path)

	if idx, ok := t.exact[path]; ok {
		return t.resolution(t.entries[idx])
	}

	segments := splitPath(path)
	best := -1
	for i, e := range t.entries {
		if e.literal || !matchSegments(e.segments, segments) {
			continue
		}
		if best < 0 || e.prefixLen > t.entries[best].prefixLen {
			best = i
		}
	}
	if best >= 0 {
		return t.resolution(t.entries[best])
	}

	return Resolution{
		Price:   t.defaultPrice,
		Display: t.defaultDisplay,
		Network: t.defaultNetwork,
		Default: true,
	}
}

func (t *Table) resolution(e entry) Resolution {
	return Resolution{
		Pattern: e.pattern,
		Price:   e.price,
		Display: e.display,
		Network: e.network,
	}
}

// Amount returns the resolved price as a plain decimal string without the
// currency prefix, suitable for atomic-unit conversion.
func (r Resolution) Amount() string {
	return r.Price.String()
}

// ParsePrice parses a "$0.10"-style price string into a decimal. The currency
// prefix is optional; negative prices are rejected.
func ParsePrice(price string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %q", price)
	}
	return d, nil
}

func normalize(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}
