package selftask

import (
	"context"
	"errors"
	"time"

	"github.com/mahdimizabiself-rgb/Self/internal/clockface"
	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// loop is the per-account recurring job. It never terminates on its own:
// cancellation is the only terminal state. Transient errors retry at the
// fixed interval, flood waits honor the transport-supplied duration plus a
// safety margin. A permanently broken session therefore loops forever, an
// accepted tradeoff in favor of self-healing once the remote side recovers.
func (r *Registry) loop(ctx context.Context, rn *runner, client userapi.Client, spec Spec) {
	defer close(rn.done)
	defer client.Close()

	log := r.log.With(logx.Int64("account", spec.AccountID))
	streak := 0

	for {
		if ctx.Err() != nil {
			return
		}

		name := clockface.Compose(spec.BaseName, spec.DigitStyle, r.now().In(r.loc))
		err := client.UpdateProfile(ctx, name)

		var wait time.Duration
		switch {
		case err == nil:
			if streak > 0 {
				log.Info("self task recovered", logx.Int("after_failures", streak))
				streak = 0
			}
			r.sink.ProfileUpdate(metrics.UpdateOK)
			wait = r.interval
		case errors.Is(err, context.Canceled):
			return
		default:
			var fw *userapi.FloodWaitError
			if errors.As(err, &fw) {
				// Mandatory backoff, not a counted retry: wait what the
				// transport demands plus a margin, then continue.
				r.sink.ProfileUpdate(metrics.UpdateFloodWait)
				wait = fw.RetryAfter + floodMargin
				log.Debug("flood wait honored", logx.Duration("wait", wait))
			} else {
				streak++
				r.sink.ProfileUpdate(metrics.UpdateError)
				wait = r.interval
				log.Warn("profile update failed", logx.Err(err), logx.Int("streak", streak))
			}
		}

		if err := r.sleep(ctx, wait); err != nil {
			return
		}
	}
}
