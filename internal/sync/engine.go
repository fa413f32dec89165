// Package sync implements the reconciliation engine: the single authority
// for reading, merging and writing the MonthDataset across the local store
// and the remote document, including the self-write suppression window.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dailydrive/internal/model"
	"dailydrive/internal/mq"
	"dailydrive/pkg/metrics"
)

// suppressionWindow is how long after a local write incoming remote change
// notifications are presumed to be echoes of that same write. Sized to
// exceed the normal round trip of this engine's own writes.
const suppressionWindow = 3 * time.Second

const remoteWriteTimeout = 10 * time.Second

type Mode int

const (
	Offline Mode = iota
	Online
)

type EventType string

const (
	EventLocalUpdate    EventType = "local-update"
	EventExternalUpdate EventType = "external-update"
)

// ChangeEvent signals the presentation layer that a re-render is due.
type ChangeEvent struct {
	Type EventType `json:"type"`
}

var (
	ErrNotLoaded    = errors.New("no dataset loaded")
	ErrUnknownHabit = errors.New("unknown habit id")
	ErrOutOfMonth   = errors.New("date outside tracked month")
	ErrEmptyName    = errors.New("habit name is empty")
)

// LocalStore is the durable on-device side of the dataset.
type LocalStore interface {
	LoadMonth(year, month int) (*model.MonthDataset, error)
	SaveMonth(year, month int, ds *model.MonthDataset) error
}

// RemoteStore is the per-user cloud document.
type RemoteStore interface {
	Fetch(ctx context.Context, userID string, year, month int) (*model.MonthDataset, error)
	Save(ctx context.Context, userID string, year, month int, ds *model.MonthDataset) error
}

// Publisher emits dataset change events after committed remote writes.
type Publisher interface {
	PublishDatasetUpdated(payload mq.DatasetUpdatedPayload) error
}

// Engine owns the MonthDataset exclusively. All mutations go through its
// entrypoints so that every write is followed by a persistence attempt.
type Engine struct {
	local    LocalStore
	remote   RemoteStore
	producer Publisher
	logger   *zap.Logger

	year     int
	month    int
	originID string

	mu             stdsync.Mutex
	dataset        *model.MonthDataset
	mode           Mode
	userID         string
	lastLocalWrite time.Time

	now    func() time.Time
	events chan ChangeEvent
	wg     stdsync.WaitGroup
}

func New(local LocalStore, remote RemoteStore, producer Publisher, originID string, year, month int, logger *zap.Logger) *Engine {
	return &Engine{
		local:    local,
		remote:   remote,
		producer: producer,
		logger:   logger,
		year:     year,
		month:    month,
		originID: originID,
		now:      time.Now,
		events:   make(chan ChangeEvent, 16),
	}
}

// Year and Month report the tracked month (month is 1..12).
func (e *Engine) Year() int  { return e.year }
func (e *Engine) Month() int { return e.month }

// Events is the re-render feed for the presentation layer. Sends never
// block; under backpressure the oldest event is dropped.
func (e *Engine) Events() <-chan ChangeEvent {
	return e.events
}

// LoadInitial establishes the in-memory dataset for the session.
//
// Offline: local store, or a fresh dataset when none exists.
// Online: the remote document wins unconditionally when it exists; when it
// does not (first-time remote user), the local dataset is adopted and
// immediately pushed to seed the cloud document. Remote read failures fall
// back to the local result and never fail the load.
//
// Postcondition: the local store holds the adopted dataset, so both stores
// are consistent immediately after load.
func (e *Engine) LoadInitial(ctx context.Context, mode Mode, userID string) (*model.MonthDataset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mode = mode
	e.userID = userID
	e.lastLocalWrite = time.Time{}

	var ds *model.MonthDataset
	seedRemote := false

	if mode == Online && e.remote != nil {
		remote, err := e.remote.Fetch(ctx, userID, e.year, e.month)
		switch {
		case err != nil:
			e.logger.Warn("Cloud load failed, using local", zap.Error(err))
			ds = e.loadLocalOrFresh()
		case remote != nil:
			ds = remote
		default:
			// First-time remote user: adopt whatever the device has and
			// push it up verbatim.
			ds = e.loadLocalOrFresh()
			seedRemote = true
		}
	} else {
		if mode == Online && e.remote == nil {
			e.logger.Warn("Remote store unavailable, using local")
		}
		ds = e.loadLocalOrFresh()
	}

	ds.Normalize(e.year, e.month)
	e.dataset = ds

	if err := e.local.SaveMonth(e.year, e.month, ds); err != nil {
		// The dataset is intact in memory; the next persist retries.
		e.logger.Warn("Local write-back after load failed", zap.Error(err))
	}

	if seedRemote {
		e.launchRemoteWriteLocked()
	}

	return ds, nil
}

func (e *Engine) loadLocalOrFresh() *model.MonthDataset {
	ds, err := e.local.LoadMonth(e.year, e.month)
	if err != nil {
		e.logger.Warn("Local load failed, starting fresh", zap.Error(err))
		ds = nil
	}
	if ds == nil {
		ds = model.NewMonthDataset(e.year, e.month)
	}
	return ds
}

// Dataset returns a snapshot of the current dataset.
func (e *Engine) Dataset() (*model.MonthDataset, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return nil, ErrNotLoaded
	}
	return e.dataset.Clone(), nil
}

// ToggleCompletion flips the completion flag for (dateKey, habitID). The
// DayRecord is created on demand; the date must fall inside the tracked
// month and the habit must be currently active.
func (e *Engine) ToggleCompletion(ctx context.Context, dateKey, habitID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return ErrNotLoaded
	}
	if _, ok := model.ParseDayKey(dateKey, e.year, e.month); !ok {
		return fmt.Errorf("%w: %s", ErrOutOfMonth, dateKey)
	}
	if !e.dataset.HasHabit(habitID) {
		return fmt.Errorf("%w: %s", ErrUnknownHabit, habitID)
	}

	snapshot := e.dataset.Clone()
	rec := e.dataset.EnsureDay(dateKey)
	rec[habitID] = !rec[habitID]

	if err := e.persistLocked(ctx); err != nil {
		e.dataset = snapshot
		return err
	}
	e.emit(EventLocalUpdate)
	return nil
}

// AddHabit appends a new habit with a freshly generated id and backfills
// false into every existing DayRecord.
func (e *Engine) AddHabit(ctx context.Context, name, icon string) (model.HabitDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.HabitDefinition{}, ErrEmptyName
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return model.HabitDefinition{}, ErrNotLoaded
	}

	h := model.HabitDefinition{ID: model.NewHabitID(), Name: name, Icon: icon}

	snapshot := e.dataset.Clone()
	e.dataset.Habits = append(e.dataset.Habits, h)
	for _, rec := range e.dataset.Days {
		rec[h.ID] = false
	}
	e.dataset.Normalize(e.year, e.month)

	if err := e.persistLocked(ctx); err != nil {
		e.dataset = snapshot
		return model.HabitDefinition{}, err
	}

	e.logger.Info("Habit added", zap.String("habit_id", h.ID), zap.String("name", h.Name))
	e.emit(EventLocalUpdate)
	return h, nil
}

// RemoveHabit deletes the habit definition and cascades the delete to every
// DayRecord. Removing an unknown id is a no-op. Irreversible: no tombstone.
func (e *Engine) RemoveHabit(ctx context.Context, habitID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return ErrNotLoaded
	}
	if !e.dataset.HasHabit(habitID) {
		return nil
	}

	snapshot := e.dataset.Clone()
	habits := e.dataset.Habits[:0]
	for _, h := range e.dataset.Habits {
		if h.ID != habitID {
			habits = append(habits, h)
		}
	}
	e.dataset.Habits = habits
	for _, rec := range e.dataset.Days {
		delete(rec, habitID)
	}

	if err := e.persistLocked(ctx); err != nil {
		e.dataset = snapshot
		return err
	}

	e.logger.Info("Habit removed", zap.String("habit_id", habitID))
	e.emit(EventLocalUpdate)
	return nil
}

// ResetMonth discards all tracked data and starts the month over.
func (e *Engine) ResetMonth(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return ErrNotLoaded
	}

	snapshot := e.dataset
	e.dataset = model.NewMonthDataset(e.year, e.month)

	if err := e.persistLocked(ctx); err != nil {
		e.dataset = snapshot
		return err
	}

	e.logger.Info("Month data reset", zap.Int("year", e.year), zap.Int("month", e.month))
	e.emit(EventLocalUpdate)
	return nil
}

// Persist writes the current dataset through the usual local-then-remote
// path. Mutation entrypoints call it implicitly; it is exported for the
// session controller.
func (e *Engine) Persist(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return ErrNotLoaded
	}
	return e.persistLocked(ctx)
}

// persistLocked writes the local store synchronously (the durability
// guarantee mutations depend on) and, when online and authenticated,
// mirrors to the remote document asynchronously. The suppression timestamp
// is recorded before the remote write is issued so the resulting change
// event is recognized as self-originated.
func (e *Engine) persistLocked(ctx context.Context) error {
	start := time.Now()
	if err := e.local.SaveMonth(e.year, e.month, e.dataset); err != nil {
		return fmt.Errorf("saving local dataset: %w", err)
	}
	metrics.RecordLocalWriteDuration(time.Since(start))

	if e.mode == Online && e.userID != "" {
		e.launchRemoteWriteLocked()
	}
	return nil
}

func (e *Engine) launchRemoteWriteLocked() {
	if e.remote == nil {
		return
	}
	e.lastLocalWrite = e.now()

	userID := e.userID
	snapshot := e.dataset.Clone()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.writeRemote(userID, snapshot)
	}()
}

// writeRemote runs outside the lock. Failures are logged and counted, never
// retried and never surfaced: local durability already satisfied the
// user-visible guarantee.
func (e *Engine) writeRemote(userID string, ds *model.MonthDataset) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()

	start := time.Now()
	if err := e.remote.Save(ctx, userID, e.year, e.month, ds); err != nil {
		metrics.IncrementRemoteWriteFailure()
		e.logger.Warn("Cloud save failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	metrics.RecordRemoteWriteDuration(time.Since(start))

	if e.producer == nil {
		return
	}
	payload := mq.DatasetUpdatedPayload{
		EventID:          uuid.NewString(),
		UserID:           userID,
		OriginID:         e.originID,
		Habits:           ds.Habits,
		Days:             ds.Days,
		HasPendingWrites: false,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := e.producer.PublishDatasetUpdated(payload); err != nil {
		metrics.IncrementChangeEventPublishFailure()
		e.logger.Warn("Change event publish failed", zap.Error(err))
	}
}

// ApplyExternalUpdate applies a dataset change notification from another
// device. Returns whether the update was applied.
//
// Guard 0: events carrying this device's own origin id are echoes.
// Guard 1: uncommitted writes (pending markers) are ignored.
// Guard 2: anything arriving inside the suppression window after our own
// last write is presumed to be an echo of that write.
func (e *Engine) ApplyExternalUpdate(p mq.DatasetUpdatedPayload) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dataset == nil {
		return false
	}

	if p.OriginID == e.originID {
		metrics.IncrementExternalUpdateSuppressed("self-origin")
		return false
	}
	if p.HasPendingWrites {
		metrics.IncrementExternalUpdateSuppressed("pending-writes")
		return false
	}
	if e.now().Sub(e.lastLocalWrite) < suppressionWindow {
		metrics.IncrementExternalUpdateSuppressed("write-window")
		e.logger.Debug("Ignoring remote change inside suppression window",
			zap.String("origin_id", p.OriginID),
		)
		return false
	}

	// Fields absent in the update retain their prior values.
	if p.Habits != nil {
		e.dataset.Habits = p.Habits
	}
	if p.Days != nil {
		e.dataset.Days = p.Days
	}
	e.dataset.Normalize(e.year, e.month)

	if err := e.local.SaveMonth(e.year, e.month, e.dataset); err != nil {
		e.logger.Warn("Local save of external update failed", zap.Error(err))
	}

	metrics.IncrementExternalUpdateApplied()
	e.logger.Info("Applied dataset update from another device",
		zap.String("origin_id", p.OriginID),
		zap.Time("updated_at", p.UpdatedAt),
	)
	e.emit(EventExternalUpdate)
	return true
}

// Flush waits for in-flight remote writes. There is no cancellation for
// them; they run to completion or fail silently.
func (e *Engine) Flush() {
	e.wg.Wait()
}

func (e *Engine) emit(t EventType) {
	select {
	case e.events <- ChangeEvent{Type: t}:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ChangeEvent{Type: t}:
		default:
		}
	}
}
