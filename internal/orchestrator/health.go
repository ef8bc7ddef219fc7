package orchestrator

import (
	"github.com/book-expert/murmur-tts/internal/api"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/lifecycle"
	"github.com/book-expert/murmur-tts/internal/tier"
	"github.com/book-expert/murmur-tts/internal/voice"
)

// HealthReporter projects the slots into a health document. It only reads.
type HealthReporter struct {
	registry *lifecycle.Registry
	tiers    config.TiersConfig
	device   string
	catalog  *voice.Catalog
}

// NewHealthReporter creates a reporter.
func NewHealthReporter(
	registry *lifecycle.Registry,
	tiers config.TiersConfig,
	device string,
	catalog *voice.Catalog,
) *HealthReporter {
	return &HealthReporter{
		registry: registry,
		tiers:    tiers,
		device:   device,
		catalog:  catalog,
	}
}

// Report takes one snapshot per slot. Status is "ok" when any tier is ready,
// "loading" while any load is in flight, "error" when every attempted load
// failed and "not_started" before any load began.
func (h *HealthReporter) Report() api.HealthResponse {
	states := h.registry.Snapshot()
	report := api.HealthResponse{
		Status:       api.StatusNotStarted,
		Device:       h.device,
		Tiers:        make(map[string]api.TierHealth, tier.Count),
		ModelLoaded:  false,
		ModelLoading: false,
		VoicesCount:  0,
	}

	failed := false

	for _, which := range tier.All() {
		state := states[which.Index()]
		report.Tiers[which.String()] = api.TierHealth{
			Available: state.Available(),
			Loading:   state.Loading(),
			Enabled:   h.registry.Slot(which).Enabled(),
			Model:     h.tiers.For(which).ModelName,
			LoadError: state.LastError,
		}

		report.ModelLoaded = report.ModelLoaded || state.Available()
		report.ModelLoading = report.ModelLoading || state.Loading()
		failed = failed || state.Status == lifecycle.StatusFailed
	}

	switch {
	case report.ModelLoaded:
		report.Status = api.StatusOK
	case report.ModelLoading:
		report.Status = api.StatusLoading
	case failed:
		report.Status = api.StatusError
	}

	if h.catalog != nil {
		report.VoicesCount = h.catalog.Count()
	}

	return report
}
