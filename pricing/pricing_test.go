package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func mustTable(t *testing.T, defaultPrice string, endpoints ...Endpoint) *Table {
	t.Helper()
	table, err := NewTable(defaultPrice, "base-sepolia")
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	for _, ep := range endpoints {
		if err := table.Add(ep); err != nil {
			t.Fatalf("Add(%q) failed: %v", ep.Pattern, err)
		}
	}
	return table
}

func TestResolve_ExactAndDefault(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/creator/me/data-sources", Price: "$0.10"},
	)

	res := table.Resolve("GET", "/api/creator/me/data-sources")
	if res.Display != "$0.10" || res.Default {
		t.Errorf("Expected $0.10 exact match, got %+v", res)
	}

	res = table.Resolve("GET", "/api/unknown/path")
	if res.Display != "$0.01" || !res.Default {
		t.Errorf("Expected $0.01 default fallback, got %+v", res)
	}
}

func TestResolve_ParameterizedMatch(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/creators/:id/data-sources", Price: "$0.05"},
		Endpoint{Pattern: "/api/agents/:id", Price: "$0.02"},
	)

	tests := []struct {
		path string
		want string
	}{
		{"/api/creators/42/data-sources", "$0.05"},
		{"/api/creators/e7a1c770-9f2b/data-sources", "$0.05"},
		{"/api/agents/abc", "$0.02"},
		{"/api/agents/abc/extra", "$0.01"},
		{"/api/creators/42", "$0.01"},
	}

	for _, tt := range tests {
		if res := table.Resolve("GET", tt.path); res.Display != tt.want {
			t.Errorf("Resolve(%q) = %s, want %s", tt.path, res.Display, tt.want)
		}
	}
}

func TestResolve_ExactBeatsParameterized(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/agents/:id", Price: "$0.02"},
		Endpoint{Pattern: "/api/agents/me", Price: "$0.50"},
	)

	if res := table.Resolve("GET", "/api/agents/me"); res.Display != "$0.50" {
		t.Errorf("Exact pattern should win, got %s", res.Display)
	}
	if res := table.Resolve("GET", "/api/agents/123"); res.Display != "$0.02" {
		t.Errorf("Parameterized pattern should match concrete id, got %s", res.Display)
	}
}

func TestResolve_LongestLiteralPrefixWins(t *testing.T) {
	// Both patterns match /api/agents/7/logs; the second has the longer
	// literal prefix and must win despite insertion order.
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/:resource/7/logs", Price: "$0.03"},
		Endpoint{Pattern: "/api/agents/:id/logs", Price: "$0.05"},
	)

	if res := table.Resolve("GET", "/api/agents/7/logs"); res.Display != "$0.05" {
		t.Errorf("Longest literal prefix should win, got %s", res.Display)
	}
}

func TestResolve_TieBrokenByConfigurationOrder(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/agents/:id", Price: "$0.02"},
		Endpoint{Pattern: "/api/agents/:key", Price: "$0.09"},
	)

	if res := table.Resolve("GET", "/api/agents/7"); res.Display != "$0.02" {
		t.Errorf("First configured pattern should win ties, got %s", res.Display)
	}
}

func TestResolve_NormalizesPath(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/agents/me", Price: "$0.02"},
	)

	for _, path := range []string{"/api/agents/me/", "/api/agents/me?verbose=1"} {
		if res := table.Resolve("GET", path); res.Display != "$0.02" {
			t.Errorf("Resolve(%q) = %s, want $0.02", path, res.Display)
		}
	}
}

func TestResolve_NetworkOverride(t *testing.T) {
	table := mustTable(t, "$0.01",
		Endpoint{Pattern: "/api/premium", Price: "$1.00", Network: "base"},
		Endpoint{Pattern: "/api/cheap", Price: "$0.02"},
	)

	if res := table.Resolve("GET", "/api/premium"); res.Network != "base" {
		t.Errorf("Expected network override base, got %s", res.Network)
	}
	if res := table.Resolve("GET", "/api/cheap"); res.Network != "base-sepolia" {
		t.Errorf("Expected default network, got %s", res.Network)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"$0.10", "0.1", false},
		{"0.05", "0.05", false},
		{" $1.50 ", "1.5", false},
		{"$0", "0", false},
		{"$-1", "", true},
		{"", "", true},
		{"$abc", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePrice(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ParsePrice(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAdd_Invalid(t *testing.T) {
	table := mustTable(t, "$0.01")
	if err := table.Add(Endpoint{Pattern: "no-slash", Price: "$0.10"}); err == nil {
		t.Error("Expected error for pattern without leading slash")
	}
	if err := table.Add(Endpoint{Pattern: "/ok", Price: "bogus"}); err == nil {
		t.Error("Expected error for unparseable price")
	}
}

func TestNewTable_InvalidDefault(t *testing.T) {
	if _, err := NewTable("nope", "base-sepolia"); err == nil {
		t.Error("Expected error for invalid default price")
	}
}
