package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/murmur-tts/internal/config"
	"github.com/book-expert/murmur-tts/internal/core"
	"github.com/book-expert/murmur-tts/internal/tier"
)

// Load outcomes reported to the observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

const (
	logFmtLoadStart    = "Loading %s backend (%s, driver %s)"
	logFmtLoadReady    = "%s backend ready in %s"
	logFmtLoadFailed   = "%s backend failed to load after %s: %v"
	logFmtLoadDisabled = "%s tier disabled; not loading"
	logFmtLoadStale    = "%s backend loaded after the slot was retired; closing it"
	logFmtCloseFailed  = "Failed to close stale %s backend: %v"
	errFmtLoadPanic    = "backend loader panicked: %v"
)

var (
	// ErrTierDisabled is returned when reloading a tier that is not enabled.
	ErrTierDisabled = errors.New("tier disabled")
	// ErrLoadInProgress is returned when a load is already running.
	ErrLoadInProgress = errors.New("load already in progress")
	// ErrAlreadyLoaded is returned when the tier is already ready.
	ErrAlreadyLoaded = errors.New("backend already loaded")
	// ErrNoDriver is returned when no factory is registered for a driver.
	ErrNoDriver = errors.New("no factory for backend driver")
	// ErrNilBackend is returned when a factory reports success without a backend.
	ErrNilBackend = errors.New("factory returned no backend")
)

// Factory builds the backend for one tier. It may block for a long time;
// ctx carries the tier's load timeout.
type Factory func(ctx context.Context, which tier.Tier, cfg config.TierConfig, log *logger.Logger) (core.Backend, error)

// Observer receives load timings. Metrics implement it.
type Observer interface {
	ObserveLoad(which tier.Tier, outcome string, elapsed time.Duration)
}

// Loader is the only writer of slot state.
type Loader struct {
	registry  *Registry
	tiers     config.TiersConfig
	factories map[string]Factory
	observer  Observer
	log       *logger.Logger

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewLoader creates a loader. factories maps a driver name to its Factory.
// observer may be nil.
func NewLoader(
	registry *Registry,
	tiers config.TiersConfig,
	factories map[string]Factory,
	observer Observer,
	log *logger.Logger,
) *Loader {
	return &Loader{
		registry:  registry,
		tiers:     tiers,
		factories: factories,
		observer:  observer,
		log:       log,
		mu:        sync.Mutex{},
		baseCtx:   context.Background(),
		wg:        sync.WaitGroup{},
	}
}

// Start launches one load per enabled tier and returns immediately. ctx bounds
// every load, including later reloads.
func (l *Loader) Start(ctx context.Context) {
	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()

	for _, which := range tier.All() {
		if !l.registry.Slot(which).Enabled() {
			l.log.Info(logFmtLoadDisabled, which)

			continue
		}

		err := l.Reload(which)
		if err != nil {
			l.log.Warn("Skipping %s backend load: %v", which, err)
		}
	}
}

// Reload starts a load of one tier if it is idle or failed. It does not wait
// for the load to finish.
func (l *Loader) Reload(which tier.Tier) error {
	if !which.Valid() {
		return fmt.Errorf("%w: %d", tier.ErrUnknownTier, int(which))
	}

	slot := l.registry.Slot(which)
	if !slot.Enabled() {
		return fmt.Errorf("%w: %s", ErrTierDisabled, which)
	}

	from, status := slot.beginLoad()
	if from == nil {
		switch status {
		case StatusReady:
			return fmt.Errorf("%w: %s", ErrAlreadyLoaded, which)
		case StatusLoading:
			return fmt.Errorf("%w: %s", ErrLoadInProgress, which)
		default:
			return fmt.Errorf("%w: %s", ErrSlotClosed, which)
		}
	}

	l.mu.Lock()
	ctx := l.baseCtx
	l.mu.Unlock()

	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		l.load(ctx, slot, from)
	}()

	return nil
}

// Wait blocks until every started load has finished.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) load(ctx context.Context, slot *Slot, from *State) {
	which := slot.Tier()
	tierCfg := l.tiers.For(which)
	started := time.Now()

	l.log.Info(logFmtLoadStart, which, tierCfg.ModelName, tierCfg.Driver)

	backend, err := l.build(ctx, which, tierCfg)
	elapsed := time.Since(started)

	if err != nil {
		l.log.Error(logFmtLoadFailed, which, elapsed.Round(time.Millisecond), err)
		slot.fail(from, err)
		l.observe(which, OutcomeFailure, elapsed)

		return
	}

	if !slot.publish(from, backend) {
		l.log.Warn(logFmtLoadStale, which)

		closeErr := backend.Close()
		if closeErr != nil {
			l.log.Error(logFmtCloseFailed, which, closeErr)
		}

		return
	}

	l.log.Info(logFmtLoadReady, which, elapsed.Round(time.Millisecond))
	l.observe(which, OutcomeSuccess, elapsed)
}

func (l *Loader) build(ctx context.Context, which tier.Tier, tierCfg config.TierConfig) (backend core.Backend, err error) {
	factory, ok := l.factories[tierCfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDriver, tierCfg.Driver)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			backend = nil
			err = fmt.Errorf(errFmtLoadPanic, recovered)
		}
	}()

	loadCtx, cancel := context.WithTimeout(ctx, tierCfg.LoadTimeout())
	defer cancel()

	backend, err = factory(loadCtx, which, tierCfg, l.log)
	if err != nil {
		return nil, err
	}

	if backend == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilBackend, which)
	}

	return backend, nil
}

func (l *Loader) observe(which tier.Tier, outcome string, elapsed time.Duration) {
	if l.observer != nil {
		l.observer.ObserveLoad(which, outcome, elapsed)
	}
}
