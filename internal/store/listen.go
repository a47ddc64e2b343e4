package store

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/util/stopper"
)

// Notification is one payload delivered on a LISTEN channel. Payload is
// the raw JSON text of the row that triggered the NOTIFY, per spec.md
// §6 ("DB notification channels").
type Notification struct {
	Channel string
	Payload string
}

// Listen opens a dedicated connection, issues LISTEN <channel>, and
// forwards every notification received on it to the returned channel
// until ctx stops or the connection is lost. The connection is held for
// the lifetime of the listen; callers should not also use it for
// queries. On a lost connection, Listen logs and returns; callers that
// need resilience should restart the listen in a retry loop (the
// orchestrator's restart replay makes this safe: no notification is
// ever the sole source of truth for unprocessed rows).
func (p *Pool) Listen(ctx *stopper.Context, channel string) (<-chan Notification, error) {
	conn, release, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
		release()
		return nil, errors.Wrapf(err, "could not listen on channel %s", channel)
	}

	out := make(chan Notification, 64)
	ctx.Go(func() error {
		defer release()
		defer close(out)
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.WithError(err).Warnf("lost LISTEN connection on channel %s", channel)
				return errors.Wrapf(err, "waiting for notification on %s", channel)
			}
			notifyReceived.WithLabelValues(n.Channel).Inc()
			select {
			case out <- Notification{Channel: n.Channel, Payload: n.Payload}:
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})

	return out, nil
}

// quoteIdent double-quotes a channel identifier. Channel names in this
// codebase are all compile-time constants (input_insertion,
// raw2valid_insertion, processing_task_insertion, product_insertion),
// never user input, so a minimal quoting scheme is sufficient.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// TryRecv is the non-blocking "poll notifications" primitive called
// for by spec.md §4.A: a select with a default case over the channel
// returned by Listen, so a caller can interleave notification draining
// with other periodic work instead of blocking exclusively on receive.
func TryRecv(ch <-chan Notification) (Notification, bool) {
	select {
	case n, ok := <-ch:
		return n, ok
	default:
		return Notification{}, false
	}
}
