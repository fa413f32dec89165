// Package session models the auth session as an explicit state machine
// {SignedOut, Offline, SignedIn(userID)}. Transitions own subscription
// setup and teardown as entry/exit effects, and persist the session-type
// flag so a restart restores the same mode without re-prompting.
package session

import (
	"context"
	"fmt"
	stdsync "sync"

	"go.uber.org/zap"

	"dailydrive/internal/model"
	"dailydrive/internal/mq"
	"dailydrive/internal/store"
	habitsync "dailydrive/internal/sync"
)

type State int

const (
	SignedOut State = iota
	Offline
	SignedIn
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case SignedIn:
		return "signed-in"
	default:
		return "signed-out"
	}
}

// Engine is the subset of the reconciliation engine the controller drives.
type Engine interface {
	LoadInitial(ctx context.Context, mode habitsync.Mode, userID string) (*model.MonthDataset, error)
	ApplyExternalUpdate(p mq.DatasetUpdatedPayload) bool
}

// Subscriber is the change-notifier contract: exactly one active
// subscription per signed-in session, unsubscription handle idempotent.
type Subscriber interface {
	Subscribe(userID string, onChange func(mq.DatasetUpdatedPayload)) (func(), error)
}

// ModeStore persists the offline/online session-type flag across restarts.
type ModeStore interface {
	Mode() (string, error)
	SetMode(mode string) error
	ClearMode() error
}

type Controller struct {
	engine     Engine
	subscriber Subscriber
	modes      ModeStore
	logger     *zap.Logger

	mu          stdsync.Mutex
	state       State
	userID      string
	unsubscribe func()
}

func NewController(engine Engine, subscriber Subscriber, modes ModeStore, logger *zap.Logger) *Controller {
	return &Controller{
		engine:     engine,
		subscriber: subscriber,
		modes:      modes,
		logger:     logger,
	}
}

// Start restores the previous session type. A persisted "offline" flag
// re-enters offline mode directly; "online" still requires a fresh SignIn
// (tokens are not stored), so the controller stays signed out until then.
func (c *Controller) Start(ctx context.Context) error {
	mode, err := c.modes.Mode()
	if err != nil {
		c.logger.Warn("Failed to read session mode", zap.Error(err))
		return nil
	}
	if mode == store.ModeOffline {
		return c.GoOffline(ctx)
	}
	return nil
}

// SignIn enters the SignedIn(userID) state: load with remote-wins
// semantics, then subscribe to the user's change feed. Any previous
// subscription is torn down first so delivery is never duplicated.
func (c *Controller) SignIn(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	if _, err := c.engine.LoadInitial(ctx, habitsync.Online, userID); err != nil {
		return fmt.Errorf("loading dataset for %s: %w", userID, err)
	}

	unsubscribe, err := c.subscriber.Subscribe(userID, func(p mq.DatasetUpdatedPayload) {
		c.engine.ApplyExternalUpdate(p)
	})
	if err != nil {
		// Live updates are best effort; the session itself stays up.
		c.logger.Warn("Change feed subscription failed", zap.Error(err))
	} else {
		c.unsubscribe = unsubscribe
	}

	c.state = SignedIn
	c.userID = userID
	if err := c.modes.SetMode(store.ModeOnline); err != nil {
		c.logger.Warn("Failed to persist session mode", zap.Error(err))
	}

	c.logger.Info("Signed in", zap.String("user_id", userID))
	return nil
}

// GoOffline enters the Offline state: local-only persistence, no
// subscription, no remote writes.
func (c *Controller) GoOffline(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	if _, err := c.engine.LoadInitial(ctx, habitsync.Offline, ""); err != nil {
		return fmt.Errorf("loading offline dataset: %w", err)
	}

	c.state = Offline
	c.userID = ""
	if err := c.modes.SetMode(store.ModeOffline); err != nil {
		c.logger.Warn("Failed to persist session mode", zap.Error(err))
	}

	c.logger.Info("Entered offline mode")
	return nil
}

// SignOut tears down the subscription and clears the persisted session
// type. Safe to call from any state.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	c.state = SignedOut
	c.userID = ""
	if err := c.modes.ClearMode(); err != nil {
		c.logger.Warn("Failed to clear session mode", zap.Error(err))
	}

	c.logger.Info("Signed out")
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Controller) teardownLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}
