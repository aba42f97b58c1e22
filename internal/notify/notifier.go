// Package notify publishes the fire-and-forget notice that tells a user
// their action's asynchronous side effects have fully drained.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/workset/internal/bus"
	"github.com/groblegark/workset/internal/model"
)

// Notifier publishes completion notices addressed to the originating user.
// Publish failures are not retried here; the caller alerts on them.
type Notifier struct {
	bus    bus.Bus
	logger *slog.Logger

	declareOnce sync.Once
	declareErr  error

	now func() time.Time // test hook
}

func New(b bus.Bus, logger *slog.Logger) *Notifier {
	return &Notifier{bus: b, logger: logger, now: time.Now}
}

// SignalComplete publishes one completion notice for the action, declaring
// the target topology lazily on first use.
func (n *Notifier) SignalComplete(ctx context.Context, userID, actionID string) error {
	if userID == "" || actionID == "" {
		return fmt.Errorf("notify: user id and action id are required")
	}

	n.declareOnce.Do(func() {
		n.declareErr = n.bus.Declare(bus.SubjectNotifyPrefix + userID)
	})
	if n.declareErr != nil {
		return fmt.Errorf("notify: declare target: %w", n.declareErr)
	}

	notice := model.CompletionNotice{
		UserID:      userID,
		Action:      actionID,
		CompletedAt: n.now().UTC(),
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("notify: marshal notice: %w", err)
	}

	if err := n.bus.Publish(ctx, bus.SubjectNotifyPrefix+userID, data); err != nil {
		return fmt.Errorf("notify: publish completion for action %s: %w", actionID, err)
	}
	n.logger.Debug("action completion signaled", "user_id", userID, "action", actionID)
	return nil
}
