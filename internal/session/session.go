package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/yussieik/pazpaz-sub021/internal/events"
	"github.com/yussieik/pazpaz-sub021/internal/models"
	"github.com/yussieik/pazpaz-sub021/internal/pazapi"
)

// User-facing messages. API detail strings take precedence over the
// fallbacks; raw errors and request ids go to the log only.
const (
	loadFallbackMessage = "Failed to load notification settings"
	saveFallbackMessage = "Failed to save settings"
	savedToastMessage   = "Settings saved"
)

// lastSaved reads "just now" for this long after a successful save or load.
const recentWindow = time.Minute

// Config holds controller tuning.
type Config struct {
	// DebounceInterval is the quiet period after the last edit before an
	// auto-save fires. Default: 1 second.
	DebounceInterval time.Duration

	// RemoteTimeout bounds an auto-save write, which runs without a caller
	// context. Default: 15 seconds.
	RemoteTimeout time.Duration

	// WorkspaceID attributes lifecycle events published before any record
	// exists, such as a failed first load. A loaded record carries its own
	// identity.
	WorkspaceID string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: time.Second,
		RemoteTimeout:    15 * time.Second,
	}
}

// Status is one consistent snapshot of the controller's observable state.
type Status struct {
	Loading     bool
	Saving      bool
	HasSettings bool
	Dirty       bool
	LastSaved   *time.Time
	Err         string // empty when the most recent load or save succeeded
}

// Controller owns one in-memory settings record and mediates between the
// remote store and a consumer: load, in-place edits, debounced auto-save,
// forced save, and user-visible status.
//
// Overlapping operations are not serialized against each other. Each applies
// its start and completion writes atomically under the controller lock, the
// remote call itself runs outside it, and the last completion wins for the
// shared flags.
type Controller struct {
	config    *Config
	store     SettingsStore
	notifier  Notifier
	scheduler Scheduler
	logger    zerolog.Logger

	bus     *events.EventBus
	metrics *Metrics

	mu        sync.Mutex
	settings  *models.NotificationSettings
	loading   bool
	saving    bool
	lastSaved *time.Time
	errMsg    string
	editGen   uint64
	savedGen  uint64
	closed    bool
}

// NewController creates a controller. notifier may be nil. scheduler may be
// nil, in which case edits debounce on a TimerScheduler with the configured
// interval.
func NewController(
	config *Config,
	store SettingsStore,
	notifier Notifier,
	scheduler Scheduler,
	logger zerolog.Logger,
) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = time.Second
	}
	if config.RemoteTimeout == 0 {
		config.RemoteTimeout = 15 * time.Second
	}
	if scheduler == nil {
		scheduler = NewTimerScheduler(config.DebounceInterval)
	}

	return &Controller{
		config:    config,
		store:     store,
		notifier:  notifier,
		scheduler: scheduler,
		logger:    logger,
	}
}

// UseEventBus publishes lifecycle events to bus. Call before the first
// operation.
func (c *Controller) UseEventBus(bus *events.EventBus) {
	c.bus = bus
}

// UseMetrics reports session metrics to m. Call before the first operation.
func (c *Controller) UseMetrics(m *Metrics) {
	c.metrics = m
}

// Load fetches the current record and replaces any prior one in full.
// Concurrent calls are not deduplicated; each runs independently and is
// idempotent by replacement. Assignment of the fresh record counts as a
// change, so a successful load arms one debounced auto-save carrying the
// just-loaded values.
//
// On failure the prior record is kept (nil if none was ever loaded), the
// normalized message lands in Status().Err and the error is also returned.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.errMsg = ""
	c.mu.Unlock()

	record, err := c.store.FetchSettings(ctx)
	if err != nil {
		msg, requestID := normalizeError(err, loadFallbackMessage)

		c.mu.Lock()
		c.loading = false
		c.errMsg = msg
		var workspaceID, userID string
		if c.settings != nil {
			workspaceID, userID = c.settings.WorkspaceID, c.settings.UserID
		} else {
			workspaceID = c.config.WorkspaceID
		}
		c.mu.Unlock()

		c.logger.Error().Err(err).Str("request_id", requestID).Msg("settings load failed")
		c.showError(msg)
		c.incLoad("error")

		c.publish(events.Event{
			Type:        events.TypeLoadFailed,
			WorkspaceID: workspaceID,
			UserID:      userID,
			Detail:      msg,
			RequestID:   requestID,
		})
		return err
	}

	c.mu.Lock()
	c.settings = record
	now := time.Now()
	c.lastSaved = &now
	c.errMsg = ""
	c.loading = false
	c.editGen++ // a fresh record assignment is itself a change
	published := record.Clone()
	c.mu.Unlock()

	c.incLoad("success")
	c.publish(c.lifecycleEvent(events.TypeLoaded, "", nil, published))
	c.scheduleAutosave()
	return nil
}

// SaveNow writes the current record immediately, bypassing the debounce. With
// no record loaded it is a silent no-op: no remote call, no state change. A
// pending auto-save is left armed; both writes may run and the one completing
// last determines the final state.
func (c *Controller) SaveNow(ctx context.Context) error {
	return c.save(ctx, events.TriggerManual)
}

// Apply mutates the record under the controller lock and, when the mutation
// changed any field, arms a debounced auto-save. Reports whether a save was
// armed. With no record loaded, mutate is not called.
func (c *Controller) Apply(mutate func(*models.NotificationSettings)) bool {
	c.mu.Lock()
	if c.settings == nil {
		c.mu.Unlock()
		return false
	}
	before := c.settings.Clone()
	mutate(c.settings)
	fields := before.Diff(c.settings)
	if len(fields) == 0 {
		c.mu.Unlock()
		return false
	}
	c.editGen++
	record := c.settings.Clone()
	c.mu.Unlock()

	c.publish(c.lifecycleEvent(events.TypeEdited, "", fields, record))
	c.scheduleAutosave()
	return true
}

// MarkDirty signals an edit made directly on the record returned by
// Settings, arming a debounced auto-save without comparing values. Apply is
// the one-step alternative.
func (c *Controller) MarkDirty() {
	c.mu.Lock()
	if c.settings == nil {
		c.mu.Unlock()
		return
	}
	c.editGen++
	record := c.settings.Clone()
	c.mu.Unlock()

	c.publish(c.lifecycleEvent(events.TypeEdited, "", nil, record))
	c.scheduleAutosave()
}

// Flush saves immediately when unsaved edits exist, for teardown paths.
func (c *Controller) Flush(ctx context.Context) error {
	if !c.Dirty() {
		return nil
	}
	return c.save(ctx, events.TriggerManual)
}

// Close cancels any pending auto-save. A debounce expiry racing Close does
// not write; an already started save is not interrupted and applies its
// completion normally.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.scheduler.Cancel()
	c.setAutosavePending(false)
	return nil
}

// Settings returns the live record, nil before the first successful load.
// Consumers may mutate it directly and then call MarkDirty; direct mutation
// is not synchronized, so concurrent consumers should prefer Apply.
func (c *Controller) Settings() *models.NotificationSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Status returns one consistent snapshot of the observable state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last *time.Time
	if c.lastSaved != nil {
		t := *c.lastSaved
		last = &t
	}
	return Status{
		Loading:     c.loading,
		Saving:      c.saving,
		HasSettings: c.settings != nil,
		Dirty:       c.editGen > c.savedGen,
		LastSaved:   last,
		Err:         c.errMsg,
	}
}

// Err returns the user-facing message from the most recent failed load or
// save, empty after a success.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Dirty reports whether an edit (or a fresh load) has not yet been confirmed
// by a successful save.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editGen > c.savedGen
}

// LastSavedLabel describes the time since the last successful save or load:
// "just now" within the first minute, a relative phrase after that, empty
// when nothing was saved yet.
func (c *Controller) LastSavedLabel() string {
	c.mu.Lock()
	last := c.lastSaved
	c.mu.Unlock()

	if last == nil {
		return ""
	}
	if time.Since(*last) < recentWindow {
		return "just now"
	}
	return humanize.Time(*last)
}

// ClearLastSaved resets the saved indicator to absent. The next successful
// load or save repopulates it.
func (c *Controller) ClearLastSaved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSaved = nil
}

func (c *Controller) save(ctx context.Context, trigger string) error {
	c.mu.Lock()
	if c.settings == nil {
		c.mu.Unlock()
		return nil
	}
	c.saving = true
	c.errMsg = ""
	snapshot := c.settings.Clone()
	gen := c.editGen
	c.mu.Unlock()

	start := time.Now()
	saved, err := c.store.PersistSettings(ctx, snapshot)
	c.observeSaveDuration(time.Since(start).Seconds())

	if err != nil {
		msg, requestID := normalizeError(err, saveFallbackMessage)

		c.mu.Lock()
		c.saving = false
		c.errMsg = msg
		c.mu.Unlock()

		c.logger.Error().
			Err(err).
			Str("request_id", requestID).
			Str("trigger", trigger).
			Msg("settings save failed")
		c.showError(msg)
		c.incSave("error", trigger)

		event := c.lifecycleEvent(events.TypeSaveFailed, trigger, nil, snapshot)
		event.Detail = msg
		event.RequestID = requestID
		c.publish(event)
		return err
	}

	c.mu.Lock()
	// The server copy replaces the record without counting as a change;
	// re-arming the watcher here would save in a loop.
	c.settings = saved
	if c.savedGen < gen {
		c.savedGen = gen
	}
	now := time.Now()
	c.lastSaved = &now
	c.errMsg = ""
	c.saving = false
	published := saved.Clone()
	c.mu.Unlock()

	c.showSuccess(savedToastMessage)
	c.incSave("success", trigger)
	c.publish(c.lifecycleEvent(events.TypeSaved, trigger, nil, published))
	return nil
}

func (c *Controller) scheduleAutosave() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.scheduler.Schedule(c.autosaveTask)
	c.incAutosaveScheduled()
	c.setAutosavePending(true)
}

func (c *Controller) autosaveTask() {
	c.setAutosavePending(false)

	// An expiry can slip past Cancel when the timer was armed between the
	// closed check in scheduleAutosave and Close taking the lock.
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.RemoteTimeout)
	defer cancel()

	// Failures surface through status, toast and log; there is no caller to
	// return them to.
	_ = c.save(ctx, events.TriggerAuto)
}

func (c *Controller) lifecycleEvent(eventType, trigger string, fields []string, record *models.NotificationSettings) events.Event {
	event := events.Event{Type: eventType, Trigger: trigger, Fields: fields}
	if record != nil {
		event.WorkspaceID = record.WorkspaceID
		event.UserID = record.UserID
		if data, err := json.Marshal(record); err == nil {
			event.Payload = data
		}
	}
	return event
}

// normalizeError maps a store failure to the user-facing message and the
// request correlation id, if the response carried one.
func normalizeError(err error, fallback string) (msg, requestID string) {
	var apiErr *pazapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apiErr.Detail, apiErr.RequestID
		}
		return fallback, apiErr.RequestID
	}
	return fallback, ""
}

func (c *Controller) showError(msg string) {
	if c.notifier != nil {
		c.notifier.ShowError(msg)
	}
}

func (c *Controller) showSuccess(msg string) {
	if c.notifier != nil {
		c.notifier.ShowSuccess(msg)
	}
}

func (c *Controller) publish(event events.Event) {
	if c.bus != nil {
		c.bus.Publish(event)
	}
}

func (c *Controller) incLoad(status string) {
	if c.metrics != nil {
		c.metrics.IncLoad(status)
	}
}

func (c *Controller) incSave(status, trigger string) {
	if c.metrics != nil {
		c.metrics.IncSave(status, trigger)
	}
}

func (c *Controller) observeSaveDuration(seconds float64) {
	if c.metrics != nil {
		c.metrics.ObserveSaveDuration(seconds)
	}
}

func (c *Controller) incAutosaveScheduled() {
	if c.metrics != nil {
		c.metrics.IncAutosaveScheduled()
	}
}

func (c *Controller) setAutosavePending(pending bool) {
	if c.metrics != nil {
		c.metrics.SetAutosavePending(pending)
	}
}
