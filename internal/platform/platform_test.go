package platform

import (
	"testing"

	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/engine"
)

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]config.PlatformConfig{
		"Vendor.example.com": {
			SubmitSelector:  "#next",
			FallbackEnabled: true,
			SelectorOverrides: map[string]string{
				"email":    "#fld-email",
				"bogus":    "#nope",
				"phone":    "",
				"postal_code": "#zip",
			},
			ConsentPatterns: []string{`your\s+fiduciary\s+duty`, `([`},
		},
	}, nil)

	p, ok := r.Lookup("vendor.example.com")
	if !ok {
		t.Fatal("expected profile for vendor.example.com")
	}
	if p.SubmitSelector != "#next" || !p.FallbackEnabled {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if got := p.SelectorOverrides[engine.KeyEmail]; got != "#fld-email" {
		t.Fatalf("expected email override, got %q", got)
	}
	if got := p.SelectorOverrides[engine.KeyPostalCode]; got != "#zip" {
		t.Fatalf("expected postal_code override, got %q", got)
	}
	if len(p.SelectorOverrides) != 2 {
		t.Fatalf("expected bogus and empty overrides dropped: %+v", p.SelectorOverrides)
	}
	if len(p.ConsentPatterns) != 1 {
		t.Fatalf("expected one compiled consent pattern, got %d", len(p.ConsentPatterns))
	}
}

func TestRegistryLookupWalksSubdomains(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]config.PlatformConfig{
		"vendor.example.com": {FallbackEnabled: true},
	}, nil)

	if !r.FallbackEnabled("portal.eu.vendor.example.com") {
		t.Fatal("expected subdomain to resolve to parent profile")
	}
	if r.FallbackEnabled("othervendor.example.net") {
		t.Fatal("did not expect unrelated host to match")
	}
	if _, ok := r.Lookup("example.org"); ok {
		t.Fatal("did not expect lookup hit for unconfigured host")
	}
}

func TestRegistryDenied(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, []string{"tracker.example.com", "*.ru"})

	cases := []struct {
		url    string
		denied bool
	}{
		{"https://tracker.example.com/portal", true},
		{"https://sub.tracker.example.com/portal", false},
		{"https://dataroom.example.ru/deal", true},
		{"https://dataroom.example.com/deal", false},
		{"://bad", false},
	}
	for _, tc := range cases {
		if got := r.Denied(tc.url); got != tc.denied {
			t.Fatalf("Denied(%q) = %v, want %v", tc.url, got, tc.denied)
		}
	}
}

func TestHostPatternList(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		l := newHostPatternList([]string{"example.org"})
		if l == nil {
			t.Fatalf("expected list to be created")
		}
		if !l.Matches("example.org") {
			t.Fatalf("expected example.org to match")
		}
		if l.Matches("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		l := newHostPatternList([]string{"*.ru"})
		if l == nil {
			t.Fatalf("expected list to be created")
		}
		cases := []struct {
			host    string
			matched bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"example.com", false},
		}
		for _, tc := range cases {
			if got := l.Matches(tc.host); got != tc.matched {
				t.Fatalf("host %q matched=%v, want %v", tc.host, got, tc.matched)
			}
		}
	})

	t.Run("nil list", func(t *testing.T) {
		var l *hostPatternList
		if l.Matches("anything") {
			t.Fatalf("nil list should never match")
		}
	})
}
