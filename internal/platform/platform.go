// Package platform holds per-vendor tuning for known deal-room hosts:
// selector overrides, extra consent patterns, fallback enablement, and the
// intake deny list. Tables are built once at startup and read-only after.
package platform

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/engine/consent"
)

// Profile is one host's resolved tuning.
type Profile struct {
	Host              string
	SelectorOverrides map[engine.CanonicalKey]engine.ControlRef
	SubmitSelector    engine.ControlRef
	DownloadSelector  engine.ControlRef
	// DownloadDir is the platform's real write target when its portal
	// sidesteps the browser-managed download directory.
	DownloadDir     string
	ConsentPatterns []consent.Pattern
	FallbackEnabled   bool
	MaxFormSteps      int
}

// Registry resolves hosts to profiles and answers intake deny checks.
type Registry struct {
	profiles map[string]Profile
	deny     *hostPatternList
}

// NewRegistry builds the registry from configuration. Unparseable consent
// patterns and unknown canonical keys are dropped rather than failing boot.
func NewRegistry(platforms map[string]config.PlatformConfig, denyHosts []string) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile, len(platforms)),
		deny:     newHostPatternList(denyHosts),
	}
	for rawHost, pc := range platforms {
		host := NormalizeHost(rawHost)
		if host == "" {
			continue
		}
		p := Profile{
			Host:              host,
			SelectorOverrides: make(map[engine.CanonicalKey]engine.ControlRef),
			SubmitSelector:    engine.ControlRef(pc.SubmitSelector),
			DownloadSelector:  engine.ControlRef(pc.DownloadSelector),
			DownloadDir:       pc.DownloadDir,
			FallbackEnabled:   pc.FallbackEnabled,
			MaxFormSteps:      pc.MaxFormSteps,
		}
		for keyName, selector := range pc.SelectorOverrides {
			key, ok := engine.ParseKey(keyName)
			if !ok || selector == "" {
				continue
			}
			p.SelectorOverrides[key] = engine.ControlRef(selector)
		}
		for _, raw := range pc.ConsentPatterns {
			re, err := regexp.Compile("(?i)" + raw)
			if err != nil {
				continue
			}
			p.ConsentPatterns = append(p.ConsentPatterns, consent.Pattern{
				Regex:    re,
				Priority: 70,
				Target:   consent.TargetCheckbox,
			})
		}
		r.profiles[host] = p
	}
	return r
}

// Lookup returns the profile for a host, walking up the domain so
// portal.eu.vendor.com matches a vendor.com entry.
func (r *Registry) Lookup(host string) (Profile, bool) {
	host = NormalizeHost(host)
	for host != "" {
		if p, ok := r.profiles[host]; ok {
			return p, true
		}
		i := strings.Index(host, ".")
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return Profile{}, false
}

// FallbackEnabled reports whether assisted fallback is configured for host.
// It has the signature the escalator's HostEnabled hook expects.
func (r *Registry) FallbackEnabled(host string) bool {
	p, ok := r.Lookup(host)
	return ok && p.FallbackEnabled
}

// Denied reports whether a portal URL's host is on the deny list.
func (r *Registry) Denied(portalURL string) bool {
	u, err := url.Parse(portalURL)
	if err != nil {
		return false
	}
	return r.deny.Matches(u.Hostname())
}

// HostOf extracts the normalized host from a URL string. It returns ""
// when the URL does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return NormalizeHost(u.Hostname())
}

// NormalizeHost lowercases and trims a host, stripping any port.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// hostPatternList stores exact hosts and suffix wildcards from configuration.
type hostPatternList struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostPatternList(patterns []string) *hostPatternList {
	matcher := &hostPatternList{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := NormalizeHost(raw)
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			suffix := strings.TrimPrefix(value, "*.")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		case strings.HasPrefix(value, "."):
			suffix := strings.TrimPrefix(value, ".")
			if suffix != "" {
				matcher.addSuffix(suffix)
			}
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	if len(matcher.exact) == 0 && len(matcher.suffixes) == 0 {
		return nil
	}
	return matcher
}

func (l *hostPatternList) addSuffix(suffix string) {
	for _, existing := range l.suffixes {
		if existing == suffix {
			return
		}
	}
	l.suffixes = append(l.suffixes, suffix)
}

// Matches reports whether host hits an exact entry or a suffix wildcard.
func (l *hostPatternList) Matches(host string) bool {
	if l == nil {
		return false
	}
	host = NormalizeHost(host)
	if host == "" {
		return false
	}
	if _, exact := l.exact[host]; exact {
		return true
	}
	for _, suffix := range l.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
