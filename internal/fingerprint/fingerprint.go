// Package fingerprint produces randomized, internally consistent client
// identity profiles. A profile is fixed for the lifetime of a session;
// rotating identity means destroying the session and generating a new one.
package fingerprint

import (
	"math/rand"
	"sync"

	"github.com/korvuslabs/prowl/internal/classify"
)

// Viewport is a screen size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Profile is the bundle of client identity attributes presented upstream.
// All fields are immutable once generated.
type Profile struct {
	UserAgent         string
	Platform          string
	Viewport          Viewport
	DeviceScaleFactor float64
	Locale            string
	Timezone          string
	ColorScheme       string
	Languages         []string
}

// deviceClass ties a user agent to the platform string and viewport sizes
// that plausibly belong to the same physical device. Picking the pieces
// independently is exactly the kind of inconsistency fingerprinting
// services look for.
type deviceClass struct {
	userAgent string
	platform  string
	viewports []Viewport
	scales    []float64
}

// region ties a locale to timezones that actually exist in it.
type region struct {
	locale    string
	timezones []string
	languages []string
}

var defaultDeviceClasses = []deviceClass{
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		platform:  "Win32",
		viewports: []Viewport{{1920, 1080}, {1536, 864}, {1366, 768}},
		scales:    []float64{1, 1.25},
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		platform:  "Win32",
		viewports: []Viewport{{1920, 1080}, {1280, 720}},
		scales:    []float64{1, 1.25, 1.5},
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		platform:  "MacIntel",
		viewports: []Viewport{{1440, 900}, {1680, 1050}},
		scales:    []float64{2},
	},
	{
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
		platform:  "Win32",
		viewports: []Viewport{{1920, 1080}, {1366, 768}},
		scales:    []float64{1},
	},
	{
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		platform:  "MacIntel",
		viewports: []Viewport{{1440, 900}, {1512, 982}},
		scales:    []float64{2},
	},
}

var defaultRegions = []region{
	{"en-US", []string{"America/New_York", "America/Chicago", "America/Los_Angeles", "America/Denver"}, []string{"en-US", "en"}},
	{"en-GB", []string{"Europe/London"}, []string{"en-GB", "en"}},
	{"en-CA", []string{"America/Toronto", "America/Vancouver"}, []string{"en-CA", "en"}},
}

var colorSchemes = []string{"light", "dark", "no-preference"}

// Generator produces profiles from an injected random source. It is safe for
// concurrent use.
type Generator struct {
	mu      sync.Mutex
	rng     *rand.Rand
	devices []deviceClass
	regions []region
}

// Option customizes a Generator. Used by tests to shrink the pools.
type Option func(*Generator)

// WithDevicePool replaces the built-in device classes.
func WithDevicePool(uas []string) Option {
	return func(g *Generator) {
		classes := make([]deviceClass, 0, len(uas))
		for _, ua := range uas {
			classes = append(classes, deviceClass{
				userAgent: ua,
				platform:  "Win32",
				viewports: []Viewport{{1920, 1080}},
				scales:    []float64{1},
			})
		}
		g.devices = classes
	}
}

// New creates a Generator seeded with the given value. The same seed always
// yields the same sequence of profiles.
func New(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng:     rand.New(rand.NewSource(seed)),
		devices: defaultDeviceClasses,
		regions: defaultRegions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a fresh, self-consistent profile. It fails only when an
// input pool is empty, which is a configuration error rather than a runtime
// condition.
func (g *Generator) Generate() (Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.devices) == 0 {
		return Profile{}, classify.ConfigurationErrorf("fingerprint device pool is empty")
	}
	if len(g.regions) == 0 {
		return Profile{}, classify.ConfigurationErrorf("fingerprint region pool is empty")
	}

	dev := g.devices[g.rng.Intn(len(g.devices))]
	reg := g.regions[g.rng.Intn(len(g.regions))]

	return Profile{
		UserAgent:         dev.userAgent,
		Platform:          dev.platform,
		Viewport:          dev.viewports[g.rng.Intn(len(dev.viewports))],
		DeviceScaleFactor: dev.scales[g.rng.Intn(len(dev.scales))],
		Locale:            reg.locale,
		Timezone:          reg.timezones[g.rng.Intn(len(reg.timezones))],
		ColorScheme:       colorSchemes[g.rng.Intn(len(colorSchemes))],
		Languages:         reg.languages,
	}, nil
}
