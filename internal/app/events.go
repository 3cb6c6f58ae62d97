package app

import (
	"context"

	"touchbase/internal/eventbus"
	"touchbase/internal/tick"
	logx "touchbase/pkg/logx"
)

// consumeEvents turns bus events into operator-visible log lines. The bus is
// non-blocking, so a stalled log sink can only drop events, never a tick.
func (a *App) consumeEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.TypeScheduleFired:
				fe, ok := ev.Data.(tick.FiredEvent)
				if !ok {
					continue
				}
				a.log.Info("schedule fired",
					logx.String("schedule_id", fe.ScheduleID),
					logx.String("group_id", fe.GroupID),
					logx.String("user_id", fe.UserID),
					logx.String("day", fe.Day),
					logx.Int("intents", fe.Intents),
				)
			case eventbus.TypeTickCompleted:
				sum, ok := ev.Data.(tick.Summary)
				if !ok {
					continue
				}
				a.log.Info("tick completed",
					logx.String("day", sum.Day),
					logx.String("at", sum.At),
					logx.Int("scanned", sum.Scanned),
					logx.Int("due", sum.Due),
					logx.Int("fired", sum.Fired),
					logx.Int("intents", sum.Intents),
					logx.Int("conflicts", sum.Conflicts),
					logx.Int("failures", sum.Failures),
					logx.Duration("took", sum.Duration),
				)
			}
		}
	}
}
