package connect

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rendezvous/relay"
)

// StartRendezvousConnect starts relay-assisted negotiation in its own
// goroutine and returns the receiver of its single result. A failed
// negotiation is delivered as an AttemptRendezvousConnect error. The relay
// end is closed once negotiation finishes. The result is buffered and the
// receiver is closed after it, so the task never blocks on a receiver that
// went away.
func StartRendezvousConnect(ctx context.Context, negotiator relay.Negotiator, ch relay.Channel) <-chan relay.Result {
	rx := make(chan relay.Result, 1)

	go func() {
		conn, err := negotiator.Negotiate(ctx, ch)
		_ = ch.Close()

		res := relay.Result{Conn: conn}
		if err != nil {
			if conn != nil {
				conn.Close()
			}
			res = relay.Result{Err: attemptError(AttemptRendezvousConnect, err)}

			logrus.WithFields(logrus.Fields{
				"function": "StartRendezvousConnect",
				"error":    err.Error(),
			}).Debug("Rendezvous negotiation failed")
		}

		rx <- res
		close(rx)
	}()

	return rx
}
