package enrich

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"socflow/internal/alert"
	"socflow/internal/config"
	"socflow/internal/logging"
	"socflow/internal/state"
)

// IntelProvider checks IP reputation against one threat intel source.
type IntelProvider interface {
	Name() string
	IPReputation(ctx context.Context, ip string) (map[string]interface{}, error)
}

// EventSource supplies SIEM-side context for an alert.
type EventSource interface {
	QueryEvents(ctx context.Context, a alert.Alert) ([]map[string]interface{}, error)
	UserActivity(ctx context.Context, user string) (map[string]interface{}, error)
	EndpointData(ctx context.Context, hostname string) (map[string]interface{}, error)
}

// Enricher fans out to the configured sources and assembles the enrichment
// payload. Sources that are disabled or fail fall back to simulated data, so
// Enrich never returns an error.
type Enricher struct {
	siem      EventSource
	primary   IntelProvider
	secondary IntelProvider
}

// NewEnricher wires sources from config. Disabled services stay nil and get
// simulated payloads.
func NewEnricher(cfg config.EnrichmentConfig) *Enricher {
	e := &Enricher{}
	zlog := logging.Zap()
	if cfg.SIEM.Enabled {
		e.siem = NewSIEMClient(cfg.SIEM, zlog)
	}
	if cfg.AbuseIPDB.Enabled {
		e.primary = NewAbuseIPDBClient(cfg.AbuseIPDB, zlog)
	}
	if cfg.VirusTotal.Enabled {
		e.secondary = NewVirusTotalClient(cfg.VirusTotal, zlog)
	}
	return e
}

// NewEnricherWithSources is the test seam.
func NewEnricherWithSources(siem EventSource, primary, secondary IntelProvider) *Enricher {
	return &Enricher{siem: siem, primary: primary, secondary: secondary}
}

// Enrich gathers SIEM events, threat intel, user activity, and endpoint data
// concurrently. Lookups are keyed on field presence: no source IP means no
// intel lookup, no user means no activity lookup, no hostname means no
// endpoint lookup.
func (e *Enricher) Enrich(ctx context.Context, a alert.Alert) state.Enrichment {
	var (
		mu     sync.Mutex
		result state.Enrichment
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events := e.fetchEvents(gctx, a)
		mu.Lock()
		result.SIEMEvents = events
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		intel := e.fetchIntel(gctx, a.SourceIP)
		mu.Lock()
		result.ThreatIntel = intel
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		activity := e.fetchUserActivity(gctx, a.User)
		mu.Lock()
		result.UserActivity = activity
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		endpoint := e.fetchEndpointData(gctx, a.Hostname)
		mu.Lock()
		result.EndpointData = endpoint
		mu.Unlock()
		return nil
	})

	g.Wait()
	return result
}

func (e *Enricher) fetchEvents(ctx context.Context, a alert.Alert) []map[string]interface{} {
	if e.siem == nil {
		logging.EnrichDebug("%s", simulatedNote("siem", nil))
		return simulatedSIEMEvents(a)
	}
	events, err := e.siem.QueryEvents(ctx, a)
	if err != nil {
		logging.EnrichWarn("%s", simulatedNote("siem", err))
		return simulatedSIEMEvents(a)
	}
	return events
}

// fetchIntel checks the primary provider and, when a secondary provider is
// configured, nests its verdict under the provider name. Secondary failure
// only logs.
func (e *Enricher) fetchIntel(ctx context.Context, ip string) map[string]interface{} {
	if ip == "" {
		return simulatedThreatIntel("")
	}

	var intel map[string]interface{}
	if e.primary == nil {
		logging.EnrichDebug("%s", simulatedNote("threat intel", nil))
		intel = simulatedThreatIntel(ip)
	} else {
		var err error
		intel, err = e.primary.IPReputation(ctx, ip)
		if err != nil {
			logging.EnrichWarn("%s", simulatedNote(e.primary.Name(), err))
			intel = simulatedThreatIntel(ip)
		}
	}

	if e.secondary != nil {
		extra, err := e.secondary.IPReputation(ctx, ip)
		if err != nil {
			logging.EnrichWarn("secondary intel %s failed: %v", e.secondary.Name(), err)
		} else {
			intel[e.secondary.Name()] = extra
		}
	}
	return intel
}

func (e *Enricher) fetchUserActivity(ctx context.Context, user string) map[string]interface{} {
	if user == "" {
		return simulatedUserActivity("")
	}
	if e.siem == nil {
		return simulatedUserActivity(user)
	}
	activity, err := e.siem.UserActivity(ctx, user)
	if err != nil {
		logging.EnrichWarn("%s", simulatedNote("user activity", err))
		return simulatedUserActivity(user)
	}
	return activity
}

func (e *Enricher) fetchEndpointData(ctx context.Context, hostname string) map[string]interface{} {
	if hostname == "" {
		return simulatedEndpointData("")
	}
	if e.siem == nil {
		return simulatedEndpointData(hostname)
	}
	data, err := e.siem.EndpointData(ctx, hostname)
	if err != nil {
		logging.EnrichWarn("%s", simulatedNote("endpoint data", err))
		return simulatedEndpointData(hostname)
	}
	return data
}
