package config

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
)

var holderLog = logging.ComponentLogger("config")

// Subscriber is invoked once with the new configuration after a
// successful hot swap. A panicking subscriber is recovered and logged; it
// never affects the swap or other subscribers.
type Subscriber func(*Config)

// Holder is the process-wide, per-process singleton configuration value:
// lock-free reads via an atomic pointer, and a debounced file watcher that
// reloads, validates, and swaps the live value on change.
type Holder struct {
	live        atomic.Pointer[Config]
	swapMu      sync.Mutex
	src         Sources
	subsMu      sync.Mutex
	subscribers []Subscriber
	debounce    time.Duration
	viper       *viper.Viper
	watching    bool
}

// NewHolder loads the initial configuration from src and returns a Holder
// seeded with it.
func NewHolder(src Sources) (*Holder, error) {
	cfg, err := Load(src)
	if err != nil {
		return nil, err
	}
	h := &Holder{src: src, debounce: 2 * time.Second}
	h.live.Store(cfg)
	return h, nil
}

// Get returns the current live configuration. Never takes a lock.
func (h *Holder) Get() *Config {
	return h.live.Load()
}

// GetMasked returns a masked copy of the current live configuration.
func (h *Holder) GetMasked() *Config {
	return GetMasked(h.Get())
}

// Subscribe registers fn to be invoked once per successful swap, after
// the live value has already been replaced.
func (h *Holder) Subscribe(fn Subscriber) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// notify invokes every subscriber on its own recovered call, so one
// subscriber's panic can't take down the swap or another subscriber.
func (h *Holder) notify(cfg *Config) {
	h.subsMu.Lock()
	subs := append([]Subscriber(nil), h.subscribers...)
	h.subsMu.Unlock()

	for _, sub := range subs {
		func(s Subscriber) {
			defer func() {
				if r := recover(); r != nil {
					holderLog.WithField("panic", r).Error("config subscriber panicked")
				}
			}()
			s(cfg)
		}(sub)
	}
}

// reload re-runs Load and, on success, swaps the live value and notifies
// subscribers; on failure the previous value remains in force and no
// subscriber is invoked.
func (h *Holder) reload() {
	h.swapMu.Lock()
	defer h.swapMu.Unlock()

	cfg, err := Load(h.src)
	if err != nil {
		holderLog.WithError(err).Error("configuration reload failed, keeping previous value")
		return
	}
	h.live.Store(cfg)
	h.notify(cfg)
}

// WatchAndReload starts a debounced fsnotify watch on src's base.yaml via
// viper.WatchConfig; changes to the environment file or to sites/*.yaml
// do not trigger a reload. It does not check the environment or
// cfg.HotReload — callers must check cfg.HotReload themselves (hot reload
// is forbidden in prod).
func (h *Holder) WatchAndReload() {
	if h.watching {
		return
	}
	h.watching = true

	v := viper.New()
	v.SetConfigFile(h.src.Dir + "/base.yaml")
	_ = v.ReadInConfig()

	var timer *time.Timer
	var mu sync.Mutex
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(h.debounce, h.reload)
	})
	v.WatchConfig()
}

// ApplyOverlay deep-merges a partial field tree onto the current
// configuration, re-validates the result as a whole, and swaps it
// atomically. Forbidden in prod.
func (h *Holder) ApplyOverlay(partial map[string]interface{}) error {
	current := h.Get()
	if current.Environment == EnvProd {
		return domain.NewConfigUpdateError(nil)
	}

	h.swapMu.Lock()
	defer h.swapMu.Unlock()

	v := viper.New()
	v.SetConfigType("yaml")
	merged := structToMap(current)
	deepMerge(merged, partial)
	if err := v.MergeConfigMap(merged); err != nil {
		return domain.NewConfigLoadError(err)
	}

	var next Config
	if err := v.Unmarshal(&next); err != nil {
		return domain.NewConfigLoadError(err)
	}
	if errs := Validate(&next); len(errs) > 0 {
		return domain.NewConfigValidationError(errs)
	}

	h.live.Store(&next)
	h.notify(&next)
	return nil
}
