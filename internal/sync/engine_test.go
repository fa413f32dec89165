package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dailydrive/internal/model"
	"dailydrive/internal/mq"
)

// --- fakes ---

type fakeLocal struct {
	mu      stdsync.Mutex
	ds      *model.MonthDataset
	saveErr error
	saves   int
}

func (f *fakeLocal) LoadMonth(year, month int) (*model.MonthDataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ds == nil {
		return nil, nil
	}
	return f.ds.Clone(), nil
}

func (f *fakeLocal) SaveMonth(year, month int, ds *model.MonthDataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.ds = ds.Clone()
	f.saves++
	return nil
}

func (f *fakeLocal) stored() *model.MonthDataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ds == nil {
		return nil
	}
	return f.ds.Clone()
}

type fakeRemote struct {
	mu       stdsync.Mutex
	ds       *model.MonthDataset
	fetchErr error
	saveErr  error
	saves    int
}

func (f *fakeRemote) Fetch(ctx context.Context, userID string, year, month int) (*model.MonthDataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.ds == nil {
		return nil, nil
	}
	return f.ds.Clone(), nil
}

func (f *fakeRemote) Save(ctx context.Context, userID string, year, month int, ds *model.MonthDataset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.ds = ds.Clone()
	f.saves++
	return nil
}

func (f *fakeRemote) stored() *model.MonthDataset {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ds == nil {
		return nil
	}
	return f.ds.Clone()
}

type fakePublisher struct {
	mu        stdsync.Mutex
	published []mq.DatasetUpdatedPayload
}

func (f *fakePublisher) PublishDatasetUpdated(p mq.DatasetUpdatedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, p)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// --- helpers ---

const (
	testYear  = 2025
	testMonth = 9 // 30 days
)

func newTestEngine(local *fakeLocal, remote *fakeRemote, pub *fakePublisher) *Engine {
	var r RemoteStore
	if remote != nil {
		r = remote
	}
	var p Publisher
	if pub != nil {
		p = pub
	}
	return New(local, r, p, "device-A", testYear, testMonth, zap.NewNop())
}

func drainEvents(e *Engine) []ChangeEvent {
	var out []ChangeEvent
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// --- LoadInitial ---

func TestLoadInitial_OfflineFresh(t *testing.T) {
	local := &fakeLocal{}
	e := newTestEngine(local, nil, nil)

	ds, err := e.LoadInitial(context.Background(), Offline, "")
	require.NoError(t, err)

	require.Len(t, ds.Days, 30, "September has 30 days")
	for d := 1; d <= 30; d++ {
		rec := ds.Days[model.DayKey(testYear, testMonth, d)]
		require.Len(t, rec, len(model.DefaultHabits()))
		for _, h := range ds.Habits {
			assert.False(t, rec[h.ID])
		}
	}

	assert.NotNil(t, local.stored(), "local store must hold the adopted dataset after load")
}

func TestLoadInitial_OfflineUsesExistingLocal(t *testing.T) {
	local := &fakeLocal{ds: model.NewMonthDataset(testYear, testMonth)}
	local.ds.Days[model.DayKey(testYear, testMonth, 5)]["h1"] = true
	e := newTestEngine(local, nil, nil)

	ds, err := e.LoadInitial(context.Background(), Offline, "")
	require.NoError(t, err)
	assert.True(t, ds.Days[model.DayKey(testYear, testMonth, 5)]["h1"])
}

func TestLoadInitial_OnlineRemoteWins(t *testing.T) {
	local := &fakeLocal{ds: model.NewMonthDataset(testYear, testMonth)}
	local.ds.Days[model.DayKey(testYear, testMonth, 1)]["h1"] = true

	remoteDS := model.NewMonthDataset(testYear, testMonth)
	remoteDS.Days[model.DayKey(testYear, testMonth, 2)]["h2"] = true
	remote := &fakeRemote{ds: remoteDS}

	e := newTestEngine(local, remote, nil)

	ds, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)

	assert.False(t, ds.Days[model.DayKey(testYear, testMonth, 1)]["h1"],
		"remote wins unconditionally on first load")
	assert.True(t, ds.Days[model.DayKey(testYear, testMonth, 2)]["h2"])

	stored := local.stored()
	require.NotNil(t, stored)
	assert.True(t, stored.Days[model.DayKey(testYear, testMonth, 2)]["h2"],
		"local store must be overwritten with the adopted dataset")
}

func TestLoadInitial_OnlineFirstTimeUserSeedsRemote(t *testing.T) {
	local := &fakeLocal{ds: model.NewMonthDataset(testYear, testMonth)}
	local.ds.Days[model.DayKey(testYear, testMonth, 5)]["h1"] = true
	remote := &fakeRemote{}
	pub := &fakePublisher{}

	e := newTestEngine(local, remote, pub)

	_, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)
	e.Flush()

	seeded := remote.stored()
	require.NotNil(t, seeded, "remote document must be created for a first-time user")
	assert.True(t, seeded.Days[model.DayKey(testYear, testMonth, 5)]["h1"],
		"remote document must contain the local dataset verbatim")
	assert.Equal(t, 1, pub.count(), "seeding publishes one change event")
}

func TestLoadInitial_RemoteReadFailureFallsBackToLocal(t *testing.T) {
	local := &fakeLocal{ds: model.NewMonthDataset(testYear, testMonth)}
	local.ds.Days[model.DayKey(testYear, testMonth, 7)]["h3"] = true
	remote := &fakeRemote{fetchErr: errors.New("permission denied")}

	e := newTestEngine(local, remote, nil)

	ds, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err, "remote read failure must not fail the load")
	assert.True(t, ds.Days[model.DayKey(testYear, testMonth, 7)]["h3"])
}

func TestLoadInitial_NormalizesAdoptedDataset(t *testing.T) {
	// A remote document written by an older session: missing days,
	// missing habit keys.
	remoteDS := &model.MonthDataset{
		Habits: []model.HabitDefinition{{ID: "x", Name: "X"}},
		Days: map[string]model.DayRecord{
			model.DayKey(testYear, testMonth, 1): {},
		},
	}
	e := newTestEngine(&fakeLocal{}, &fakeRemote{ds: remoteDS}, nil)

	ds, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)

	require.Len(t, ds.Days, 30)
	for d := 1; d <= 30; d++ {
		rec := ds.Days[model.DayKey(testYear, testMonth, d)]
		_, present := rec["x"]
		assert.True(t, present, "day %d must be backfilled", d)
	}
}

// --- mutations ---

func loadedOfflineEngine(t *testing.T) (*Engine, *fakeLocal) {
	t.Helper()
	local := &fakeLocal{}
	e := newTestEngine(local, nil, nil)
	_, err := e.LoadInitial(context.Background(), Offline, "")
	require.NoError(t, err)
	drainEvents(e)
	return e, local
}

func TestToggleCompletion_Involution(t *testing.T) {
	e, _ := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 10)

	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))
	ds, err := e.Dataset()
	require.NoError(t, err)
	assert.True(t, ds.Days[key]["h1"])

	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))
	ds, err = e.Dataset()
	require.NoError(t, err)
	assert.False(t, ds.Days[key]["h1"], "toggling twice must return the entry to its original value")
}

func TestToggleCompletion_PersistsLocally(t *testing.T) {
	e, local := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 3)

	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h2"))
	stored := local.stored()
	require.NotNil(t, stored)
	assert.True(t, stored.Days[key]["h2"], "every mutation must reach the local store")
}

func TestToggleCompletion_UnknownHabit(t *testing.T) {
	e, _ := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 10)

	err := e.ToggleCompletion(context.Background(), key, "nope")
	assert.ErrorIs(t, err, ErrUnknownHabit)

	ds, _ := e.Dataset()
	assert.False(t, ds.Days[key]["nope"], "rejected mutation must not change state")
}

func TestToggleCompletion_OutOfMonth(t *testing.T) {
	e, _ := loadedOfflineEngine(t)

	err := e.ToggleCompletion(context.Background(), "2025-10-01", "h1")
	assert.ErrorIs(t, err, ErrOutOfMonth)
}

func TestToggleCompletion_EmitsLocalUpdate(t *testing.T) {
	e, _ := loadedOfflineEngine(t)

	require.NoError(t, e.ToggleCompletion(context.Background(), model.DayKey(testYear, testMonth, 1), "h1"))
	events := drainEvents(e)
	require.Len(t, events, 1)
	assert.Equal(t, EventLocalUpdate, events[0].Type)
}

func TestAddHabit_BackfillsEveryDay(t *testing.T) {
	e, _ := loadedOfflineEngine(t)

	h, err := e.AddHabit(context.Background(), "Read a book", "📖")
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	ds, err := e.Dataset()
	require.NoError(t, err)
	require.Len(t, ds.Days, 30)
	for d := 1; d <= 30; d++ {
		rec := ds.Days[model.DayKey(testYear, testMonth, d)]
		done, present := rec[h.ID]
		assert.True(t, present, "day %d missing new habit", d)
		assert.False(t, done)
	}
}

func TestAddHabit_EmptyNameRejected(t *testing.T) {
	e, _ := loadedOfflineEngine(t)

	_, err := e.AddHabit(context.Background(), "   ", "x")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRemoveHabit_CascadesToEveryDay(t *testing.T) {
	e, _ := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 4)
	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))

	require.NoError(t, e.RemoveHabit(context.Background(), "h1"))

	ds, err := e.Dataset()
	require.NoError(t, err)
	assert.False(t, ds.HasHabit("h1"))
	for dayKey, rec := range ds.Days {
		_, present := rec["h1"]
		assert.False(t, present, "day %s still contains removed habit", dayKey)
	}
}

func TestRemoveHabit_UnknownIsNoop(t *testing.T) {
	e, local := loadedOfflineEngine(t)
	before := local.saves

	require.NoError(t, e.RemoveHabit(context.Background(), "ghost"))
	assert.Equal(t, before, local.saves, "no-op must not persist")
}

func TestMutation_RolledBackOnLocalWriteFailure(t *testing.T) {
	e, local := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 9)

	local.mu.Lock()
	local.saveErr = errors.New("disk full")
	local.mu.Unlock()

	err := e.ToggleCompletion(context.Background(), key, "h1")
	require.Error(t, err)

	local.mu.Lock()
	local.saveErr = nil
	local.mu.Unlock()

	ds, _ := e.Dataset()
	assert.False(t, ds.Days[key]["h1"], "failed mutation must not be visible")
}

func TestResetMonth(t *testing.T) {
	e, _ := loadedOfflineEngine(t)
	key := model.DayKey(testYear, testMonth, 2)
	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))

	require.NoError(t, e.ResetMonth(context.Background()))

	ds, err := e.Dataset()
	require.NoError(t, err)
	assert.False(t, ds.Days[key]["h1"])
	assert.Len(t, ds.Habits, len(model.DefaultHabits()))
}

// --- remote persistence ---

func TestPersist_OnlineWritesRemoteAndPublishes(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{ds: model.NewMonthDataset(testYear, testMonth)}
	pub := &fakePublisher{}
	e := newTestEngine(local, remote, pub)

	_, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)

	key := model.DayKey(testYear, testMonth, 12)
	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))
	e.Flush()

	stored := remote.stored()
	require.NotNil(t, stored)
	assert.True(t, stored.Days[key]["h1"])

	require.Equal(t, 1, pub.count())
	pub.mu.Lock()
	p := pub.published[0]
	pub.mu.Unlock()
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "device-A", p.OriginID)
	assert.False(t, p.HasPendingWrites)
	assert.NotEmpty(t, p.EventID)
}

func TestPersist_RemoteWriteFailureIsSilent(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{ds: model.NewMonthDataset(testYear, testMonth)}
	pub := &fakePublisher{}
	e := newTestEngine(local, remote, pub)

	_, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)

	remote.mu.Lock()
	remote.saveErr = errors.New("network down")
	remote.mu.Unlock()

	key := model.DayKey(testYear, testMonth, 12)
	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"),
		"remote write failure must not surface: local durability already holds")
	e.Flush()

	assert.Equal(t, 0, pub.count(), "no change event after a failed remote write")
	stored := local.stored()
	assert.True(t, stored.Days[key]["h1"], "local write happened regardless")
}

func TestPersist_OfflineNeverTouchesRemote(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{}
	e := newTestEngine(local, remote, nil)

	_, err := e.LoadInitial(context.Background(), Offline, "")
	require.NoError(t, err)

	require.NoError(t, e.ToggleCompletion(context.Background(), model.DayKey(testYear, testMonth, 1), "h1"))
	e.Flush()

	assert.Nil(t, remote.stored())
}

// --- ApplyExternalUpdate ---

func onlineEngineWithClock(t *testing.T) (*Engine, *fakeLocal, *time.Time) {
	t.Helper()
	local := &fakeLocal{}
	remote := &fakeRemote{ds: model.NewMonthDataset(testYear, testMonth)}
	e := newTestEngine(local, remote, nil)

	current := time.Date(testYear, time.Month(testMonth), 15, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return current }

	_, err := e.LoadInitial(context.Background(), Online, "u1")
	require.NoError(t, err)
	e.Flush()
	drainEvents(e)
	return e, local, &current
}

func externalPayload(days map[string]model.DayRecord) mq.DatasetUpdatedPayload {
	return mq.DatasetUpdatedPayload{
		EventID:          "ev-1",
		UserID:           "u1",
		OriginID:         "device-B",
		Habits:           model.DefaultHabits(),
		Days:             days,
		HasPendingWrites: false,
	}
}

func TestApplyExternalUpdate_AppliedOutsideWindow(t *testing.T) {
	e, local, clock := onlineEngineWithClock(t)
	key := model.DayKey(testYear, testMonth, 20)

	// A local write, then a foreign update arriving well after the window.
	require.NoError(t, e.ToggleCompletion(context.Background(), model.DayKey(testYear, testMonth, 1), "h1"))
	e.Flush()
	drainEvents(e)
	*clock = clock.Add(4 * time.Second)

	days := model.NewMonthDataset(testYear, testMonth).Days
	days[key]["h2"] = true

	applied := e.ApplyExternalUpdate(externalPayload(days))
	require.True(t, applied)

	ds, err := e.Dataset()
	require.NoError(t, err)
	assert.True(t, ds.Days[key]["h2"], "model must reflect the remote values")

	stored := local.stored()
	assert.True(t, stored.Days[key]["h2"], "applied update must be persisted locally")

	events := drainEvents(e)
	require.Len(t, events, 1)
	assert.Equal(t, EventExternalUpdate, events[0].Type)
}

func TestApplyExternalUpdate_SuppressedInsideWindow(t *testing.T) {
	e, _, clock := onlineEngineWithClock(t)
	key := model.DayKey(testYear, testMonth, 20)

	require.NoError(t, e.ToggleCompletion(context.Background(), model.DayKey(testYear, testMonth, 1), "h1"))
	e.Flush()
	drainEvents(e)
	*clock = clock.Add(1 * time.Second)

	days := model.NewMonthDataset(testYear, testMonth).Days
	days[key]["h2"] = true

	applied := e.ApplyExternalUpdate(externalPayload(days))
	assert.False(t, applied, "updates inside the suppression window are echoes")

	ds, _ := e.Dataset()
	assert.False(t, ds.Days[key]["h2"], "model must be unchanged")
	assert.Empty(t, drainEvents(e))
}

func TestApplyExternalUpdate_PendingWritesIgnored(t *testing.T) {
	e, _, _ := onlineEngineWithClock(t)

	p := externalPayload(model.NewMonthDataset(testYear, testMonth).Days)
	p.HasPendingWrites = true

	assert.False(t, e.ApplyExternalUpdate(p))
}

func TestApplyExternalUpdate_OwnOriginIgnored(t *testing.T) {
	e, _, _ := onlineEngineWithClock(t)

	p := externalPayload(model.NewMonthDataset(testYear, testMonth).Days)
	p.OriginID = "device-A"

	assert.False(t, e.ApplyExternalUpdate(p))
}

func TestApplyExternalUpdate_AbsentFieldsRetainPriorValues(t *testing.T) {
	e, _, clock := onlineEngineWithClock(t)
	key := model.DayKey(testYear, testMonth, 6)

	require.NoError(t, e.ToggleCompletion(context.Background(), key, "h1"))
	e.Flush()
	drainEvents(e)
	*clock = clock.Add(4 * time.Second)

	p := externalPayload(nil)
	p.Habits = nil // neither field present in the update

	require.True(t, e.ApplyExternalUpdate(p))

	ds, _ := e.Dataset()
	assert.True(t, ds.Days[key]["h1"], "absent days field retains prior values")
	assert.Len(t, ds.Habits, len(model.DefaultHabits()), "absent habits field retains prior values")
}

func TestApplyExternalUpdate_NormalizesIncoming(t *testing.T) {
	e, _, clock := onlineEngineWithClock(t)
	*clock = clock.Add(4 * time.Second)

	// Foreign device added a habit but its day map is sparse.
	habits := append(model.DefaultHabits(), model.HabitDefinition{ID: "hx", Name: "New"})
	p := externalPayload(map[string]model.DayRecord{})
	p.Habits = habits

	require.True(t, e.ApplyExternalUpdate(p))

	ds, _ := e.Dataset()
	require.Len(t, ds.Days, 30)
	for d := 1; d <= 30; d++ {
		_, present := ds.Days[model.DayKey(testYear, testMonth, d)]["hx"]
		assert.True(t, present, "day %d missing backfilled habit", d)
	}
}

func TestApplyExternalUpdate_BeforeLoadReturnsFalse(t *testing.T) {
	e := newTestEngine(&fakeLocal{}, nil, nil)
	assert.False(t, e.ApplyExternalUpdate(externalPayload(nil)))
}
