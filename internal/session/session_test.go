package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yussieik/pazpaz-sub021/internal/events"
	"github.com/yussieik/pazpaz-sub021/internal/models"
	"github.com/yussieik/pazpaz-sub021/internal/pazapi"
)

// mockStore implements SettingsStore for testing.
type mockStore struct {
	mu           sync.Mutex
	record       *models.NotificationSettings
	fetchErr     error
	persistErr   error
	fetchCalls   int
	persistCalls int
	lastWritten  *models.NotificationSettings

	// hooks run inside the store call, before it returns
	onFetch   func()
	onPersist func()
}

func newMockStore() *mockStore {
	minutes := 30
	return &mockStore{
		record: &models.NotificationSettings{
			ID:              "ns-1",
			UserID:          "user-1",
			WorkspaceID:     "ws-1",
			EmailEnabled:    true,
			ReminderEnabled: true,
			ReminderMinutes: &minutes,
			UpdatedAt:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		},
	}
}

func (m *mockStore) FetchSettings(ctx context.Context) (*models.NotificationSettings, error) {
	m.mu.Lock()
	m.fetchCalls++
	hook := m.onFetch
	err := m.fetchErr
	record := m.record.Clone()
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (m *mockStore) PersistSettings(ctx context.Context, record *models.NotificationSettings) (*models.NotificationSettings, error) {
	m.mu.Lock()
	m.persistCalls++
	hook := m.onPersist
	err := m.persistErr
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastWritten = record.Clone()
	echoed := record.Clone()
	echoed.UpdatedAt = time.Now()
	m.mu.Unlock()
	return echoed, nil
}

func (m *mockStore) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

func (m *mockStore) persistCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistCalls
}

func (m *mockStore) written() *models.NotificationSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWritten.Clone()
}

func (m *mockStore) setFetchErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

func (m *mockStore) setPersistErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErr = err
}

// mockNotifier implements Notifier for testing.
type mockNotifier struct {
	mu        sync.Mutex
	errors    []string
	successes []string
}

func (n *mockNotifier) ShowError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *mockNotifier) ShowSuccess(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, message)
}

func (n *mockNotifier) errorMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

func (n *mockNotifier) successMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.successes...)
}

// recordingScheduler captures scheduled tasks so tests decide when the
// debounce "fires".
type recordingScheduler struct {
	mu        sync.Mutex
	scheduled int
	cancelled int
	task      func()
}

func (s *recordingScheduler) Schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled++
	s.task = task
}

func (s *recordingScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled++
	s.task = nil
}

func (s *recordingScheduler) scheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *recordingScheduler) cancelledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// runPending fires the captured task the way a timer expiry would.
func (s *recordingScheduler) runPending() {
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.mu.Unlock()
	if task != nil {
		task()
	}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestController_InitialState(t *testing.T) {
	ctrl := NewController(nil, newMockStore(), nil, &recordingScheduler{}, testLogger())

	st := ctrl.Status()
	assert.False(t, st.HasSettings)
	assert.False(t, st.Loading)
	assert.False(t, st.Saving)
	assert.Nil(t, st.LastSaved)
	assert.Empty(t, st.Err)
	assert.Nil(t, ctrl.Settings())
	assert.Empty(t, ctrl.LastSavedLabel())
	assert.False(t, ctrl.Dirty())
}

func TestController_LoadSuccess(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, nil, sched, testLogger())

	var loadingDuringFetch bool
	store.onFetch = func() { loadingDuringFetch = ctrl.Status().Loading }

	require.NoError(t, ctrl.Load(context.Background()))

	assert.True(t, loadingDuringFetch, "loading is up while the fetch is in flight")

	st := ctrl.Status()
	assert.False(t, st.Loading)
	assert.True(t, st.HasSettings)
	assert.Empty(t, st.Err)
	require.NotNil(t, st.LastSaved)
	assert.Equal(t, "just now", ctrl.LastSavedLabel())
	assert.Equal(t, "ns-1", ctrl.Settings().ID)

	// assignment of the fresh record armed one auto-save
	assert.Equal(t, 1, sched.scheduledCount())

	// firing it re-sends the just-loaded values, which is harmless
	sched.runPending()
	assert.Equal(t, 1, store.persistCount())
	assert.True(t, store.written().EmailEnabled)
	assert.False(t, ctrl.Dirty(), "the post-load save settles the session")
}

func TestController_LoadFailure(t *testing.T) {
	t.Run("structured detail is shown verbatim", func(t *testing.T) {
		store := newMockStore()
		store.setFetchErr(&pazapi.APIError{
			StatusCode: 500,
			Detail:     "Failed to fetch settings",
			RequestID:  "req-42",
		})
		notifier := &mockNotifier{}
		sched := &recordingScheduler{}
		ctrl := NewController(nil, store, notifier, sched, testLogger())

		err := ctrl.Load(context.Background())
		require.Error(t, err)

		st := ctrl.Status()
		assert.False(t, st.HasSettings, "a failed first load leaves no record")
		assert.False(t, st.Loading)
		assert.Equal(t, "Failed to fetch settings", st.Err)
		assert.Equal(t, []string{"Failed to fetch settings"}, notifier.errorMessages())
		assert.Zero(t, sched.scheduledCount(), "no record, no auto-save")
	})

	t.Run("opaque error falls back", func(t *testing.T) {
		store := newMockStore()
		store.setFetchErr(errors.New("connection refused"))
		ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())

		require.Error(t, ctrl.Load(context.Background()))
		assert.Equal(t, "Failed to load notification settings", ctrl.Err())
	})

	t.Run("detail-less api error falls back", func(t *testing.T) {
		store := newMockStore()
		store.setFetchErr(&pazapi.APIError{StatusCode: 502})
		ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())

		require.Error(t, ctrl.Load(context.Background()))
		assert.Equal(t, "Failed to load notification settings", ctrl.Err())
	})

	t.Run("prior record survives a failed reload", func(t *testing.T) {
		store := newMockStore()
		ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())
		require.NoError(t, ctrl.Load(context.Background()))

		store.setFetchErr(errors.New("boom"))
		require.Error(t, ctrl.Load(context.Background()))

		require.NotNil(t, ctrl.Settings())
		assert.Equal(t, "ns-1", ctrl.Settings().ID)
		assert.Equal(t, "Failed to load notification settings", ctrl.Err())
	})
}

func TestController_ForcedSaveSuccess(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, notifier, sched, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))

	armed := ctrl.Apply(func(s *models.NotificationSettings) {
		s.EmailEnabled = false
	})
	assert.True(t, armed)

	var savingDuringPersist bool
	store.onPersist = func() { savingDuringPersist = ctrl.Status().Saving }

	require.NoError(t, ctrl.SaveNow(context.Background()))

	assert.True(t, savingDuringPersist, "saving is up while the write is in flight")
	assert.False(t, store.written().EmailEnabled, "the write carried the edit")

	st := ctrl.Status()
	assert.False(t, st.Saving)
	assert.Empty(t, st.Err)
	assert.False(t, ctrl.Settings().EmailEnabled)
	assert.False(t, ctrl.Dirty())
	assert.Equal(t, []string{"Settings saved"}, notifier.successMessages())
}

func TestController_SaveFailurePreservesEdits(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	ctrl := NewController(nil, store, notifier, &recordingScheduler{}, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))

	ctrl.Apply(func(s *models.NotificationSettings) {
		s.EmailEnabled = false
		s.DigestEnabled = true
	})

	store.setPersistErr(&pazapi.APIError{
		StatusCode: 422,
		Detail:     "Workspace quota exceeded",
		RequestID:  "req-7",
	})

	require.Error(t, ctrl.SaveNow(context.Background()))

	st := ctrl.Status()
	assert.Equal(t, "Workspace quota exceeded", st.Err)
	assert.False(t, st.Saving)

	// local edits are not rolled back, so a retry needs no re-entry
	assert.False(t, ctrl.Settings().EmailEnabled)
	assert.True(t, ctrl.Settings().DigestEnabled)
	assert.True(t, ctrl.Dirty())
	assert.Equal(t, []string{"Workspace quota exceeded"}, notifier.errorMessages())
	assert.Empty(t, notifier.successMessages())
}

func TestController_SaveWithoutRecordIsNoop(t *testing.T) {
	store := newMockStore()
	notifier := &mockNotifier{}
	ctrl := NewController(nil, store, notifier, &recordingScheduler{}, testLogger())

	require.NoError(t, ctrl.SaveNow(context.Background()))

	assert.Zero(t, store.persistCount(), "no remote write happened")
	st := ctrl.Status()
	assert.False(t, st.Saving)
	assert.Empty(t, st.Err)
	assert.Empty(t, notifier.errorMessages())
	assert.Empty(t, notifier.successMessages())
}

func TestController_ErrorClearsOnNextSuccess(t *testing.T) {
	store := newMockStore()
	ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())

	store.setFetchErr(errors.New("down"))
	require.Error(t, ctrl.Load(context.Background()))
	require.NotEmpty(t, ctrl.Err())

	store.setFetchErr(nil)
	require.NoError(t, ctrl.Load(context.Background()))
	assert.Empty(t, ctrl.Err(), "a successful load clears the error")

	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
	store.setPersistErr(errors.New("down again"))
	require.Error(t, ctrl.SaveNow(context.Background()))
	require.Equal(t, "Failed to save settings", ctrl.Err())

	store.setPersistErr(nil)
	require.NoError(t, ctrl.SaveNow(context.Background()))
	assert.Empty(t, ctrl.Err(), "a successful save clears the error")
}

func TestController_LastSavedLifecycle(t *testing.T) {
	store := newMockStore()
	ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())

	require.NoError(t, ctrl.Load(context.Background()))
	assert.Equal(t, "just now", ctrl.LastSavedLabel())

	ctrl.ClearLastSaved()
	assert.Empty(t, ctrl.LastSavedLabel())
	assert.Nil(t, ctrl.Status().LastSaved)

	require.NoError(t, ctrl.SaveNow(context.Background()))
	assert.Equal(t, "just now", ctrl.LastSavedLabel())
}

func TestController_Apply(t *testing.T) {
	t.Run("no-op mutation arms nothing", func(t *testing.T) {
		store := newMockStore()
		sched := &recordingScheduler{}
		ctrl := NewController(nil, store, nil, sched, testLogger())
		require.NoError(t, ctrl.Load(context.Background()))
		armedBefore := sched.scheduledCount()

		armed := ctrl.Apply(func(s *models.NotificationSettings) {})

		assert.False(t, armed)
		assert.Equal(t, armedBefore, sched.scheduledCount())
	})

	t.Run("before load nothing runs", func(t *testing.T) {
		ctrl := NewController(nil, newMockStore(), nil, &recordingScheduler{}, testLogger())

		called := false
		armed := ctrl.Apply(func(s *models.NotificationSettings) { called = true })

		assert.False(t, armed)
		assert.False(t, called)
	})

	t.Run("each change re-arms the debounce", func(t *testing.T) {
		store := newMockStore()
		sched := &recordingScheduler{}
		ctrl := NewController(nil, store, nil, sched, testLogger())
		require.NoError(t, ctrl.Load(context.Background()))
		base := sched.scheduledCount()

		ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
		ctrl.Apply(func(s *models.NotificationSettings) { s.DigestSkipWeekends = true })

		assert.Equal(t, base+2, sched.scheduledCount())

		// one fire writes the coalesced result
		sched.runPending()
		require.Equal(t, 1, store.persistCount())
		written := store.written()
		assert.True(t, written.DigestEnabled)
		assert.True(t, written.DigestSkipWeekends)
	})
}

func TestController_MarkDirty(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, nil, sched, testLogger())

	ctrl.MarkDirty()
	assert.Zero(t, sched.scheduledCount(), "no record, no edit signal")

	require.NoError(t, ctrl.Load(context.Background()))
	base := sched.scheduledCount()

	ctrl.Settings().NotesReminderEnabled = true
	ctrl.MarkDirty()

	assert.Equal(t, base+1, sched.scheduledCount())
	assert.True(t, ctrl.Dirty())

	sched.runPending()
	assert.True(t, store.written().NotesReminderEnabled)
	assert.False(t, ctrl.Dirty())
}

func TestController_Flush(t *testing.T) {
	store := newMockStore()
	ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))
	require.NoError(t, ctrl.SaveNow(context.Background()))
	require.Equal(t, 1, store.persistCount())

	require.NoError(t, ctrl.Flush(context.Background()))
	assert.Equal(t, 1, store.persistCount(), "clean session flushes nothing")

	ctrl.Apply(func(s *models.NotificationSettings) { s.ReminderEnabled = false })
	require.NoError(t, ctrl.Flush(context.Background()))
	assert.Equal(t, 2, store.persistCount())
	assert.False(t, store.written().ReminderEnabled)
}

func TestController_Close(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, nil, sched, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))

	require.NoError(t, ctrl.Close())
	assert.Equal(t, 1, sched.cancelledCount())

	armedBefore := sched.scheduledCount()
	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
	assert.Equal(t, armedBefore, sched.scheduledCount(), "a closed controller arms nothing")
}

func TestController_CloseStopsRacingAutosave(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, nil, sched, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))

	// Capture the armed task before Close clears it, the way a timer expiry
	// that already started survives Cancel.
	sched.mu.Lock()
	task := sched.task
	sched.mu.Unlock()
	require.NotNil(t, task)

	require.NoError(t, ctrl.Close())
	task()

	assert.Zero(t, store.persistCount(), "an expiry racing Close does not write")
}

func TestController_Events(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	bus := events.NewEventBus()
	ctrl := NewController(&Config{WorkspaceID: "ws-1"}, store, nil, sched, testLogger())
	ctrl.UseEventBus(bus)

	var mu sync.Mutex
	var seen []events.Event
	record := func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
		return nil
	}
	for _, topic := range []string{
		events.TypeLoaded, events.TypeLoadFailed,
		events.TypeEdited, events.TypeSaved, events.TypeSaveFailed,
	} {
		bus.Subscribe(topic, record)
	}

	store.setFetchErr(&pazapi.APIError{StatusCode: 500, Detail: "nope", RequestID: "req-9"})
	_ = ctrl.Load(context.Background())
	store.setFetchErr(nil)
	require.NoError(t, ctrl.Load(context.Background()))

	ctrl.Apply(func(s *models.NotificationSettings) { s.EmailEnabled = false })
	require.NoError(t, ctrl.SaveNow(context.Background()))

	store.setPersistErr(errors.New("down"))
	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
	_ = ctrl.SaveNow(context.Background())

	mu.Lock()
	defer mu.Unlock()
	types := make([]string, 0, len(seen))
	for _, e := range seen {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		events.TypeLoadFailed,
		events.TypeLoaded,
		events.TypeEdited,
		events.TypeSaved,
		events.TypeEdited,
		events.TypeSaveFailed,
	}, types)

	assert.Equal(t, "nope", seen[0].Detail)
	assert.Equal(t, "req-9", seen[0].RequestID)
	assert.Equal(t, "ws-1", seen[0].WorkspaceID, "configured identity before any record exists")

	assert.Equal(t, "ws-1", seen[1].WorkspaceID)
	assert.Equal(t, "user-1", seen[1].UserID)
	assert.NotEmpty(t, seen[1].Payload)

	assert.Equal(t, []string{"email_enabled"}, seen[2].Fields)
	assert.Equal(t, events.TriggerManual, seen[3].Trigger)
	assert.Equal(t, "Failed to save settings", seen[5].Detail)
}

func TestController_AutosaveTrigger(t *testing.T) {
	store := newMockStore()
	sched := &recordingScheduler{}
	bus := events.NewEventBus()
	ctrl := NewController(nil, store, nil, sched, testLogger())
	ctrl.UseEventBus(bus)

	var mu sync.Mutex
	var triggers []string
	bus.Subscribe(events.TypeSaved, func(e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		triggers = append(triggers, e.Trigger)
		return nil
	})

	require.NoError(t, ctrl.Load(context.Background()))
	sched.runPending()
	require.NoError(t, ctrl.SaveNow(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.TriggerAuto, events.TriggerManual}, triggers)
}

func TestController_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsWith(reg, "pazpaz")

	store := newMockStore()
	sched := &recordingScheduler{}
	ctrl := NewController(nil, store, nil, sched, testLogger())
	ctrl.UseMetrics(metrics)

	store.setFetchErr(errors.New("down"))
	_ = ctrl.Load(context.Background())
	store.setFetchErr(nil)
	require.NoError(t, ctrl.Load(context.Background()))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AutosaveScheduledTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AutosavePending))

	sched.runPending()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AutosavePending))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SavesTotal.WithLabelValues("success", "auto")))

	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
	require.NoError(t, ctrl.SaveNow(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SavesTotal.WithLabelValues("success", "manual")))
}

func TestController_DebouncedAutosave(t *testing.T) {
	store := newMockStore()
	config := &Config{DebounceInterval: 30 * time.Millisecond}
	ctrl := NewController(config, store, nil, nil, testLogger())
	defer func() { _ = ctrl.Close() }()

	require.NoError(t, ctrl.Load(context.Background()))

	// rapid edits inside the quiet period coalesce with the load trigger
	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = true })
	ctrl.Apply(func(s *models.NotificationSettings) { s.DigestSkipWeekends = true })
	assert.Zero(t, store.persistCount(), "nothing fires before the quiet period")

	require.Eventually(t, func() bool {
		return store.persistCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// quiet afterwards: exactly one write happened
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, store.persistCount())

	written := store.written()
	assert.True(t, written.DigestEnabled)
	assert.True(t, written.DigestSkipWeekends)
}

func TestController_NilCollaborators(t *testing.T) {
	store := newMockStore()
	ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())

	store.setFetchErr(errors.New("down"))
	assert.NotPanics(t, func() {
		_ = ctrl.Load(context.Background())
	})
	store.setFetchErr(nil)
	assert.NotPanics(t, func() {
		_ = ctrl.Load(context.Background())
		ctrl.Apply(func(s *models.NotificationSettings) { s.EmailEnabled = false })
		_ = ctrl.SaveNow(context.Background())
	})
}

func TestController_ConcurrentOperations(t *testing.T) {
	store := newMockStore()
	ctrl := NewController(nil, store, nil, &recordingScheduler{}, testLogger())
	require.NoError(t, ctrl.Load(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = ctrl.Load(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = ctrl.SaveNow(context.Background())
		}()
		go func() {
			defer wg.Done()
			ctrl.Apply(func(s *models.NotificationSettings) { s.DigestEnabled = !s.DigestEnabled })
		}()
	}
	wg.Wait()

	st := ctrl.Status()
	assert.False(t, st.Loading, "all operations completed")
	assert.False(t, st.Saving)
	assert.True(t, st.HasSettings)
}
