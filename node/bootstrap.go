package node

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/config"
	"github.com/opd-ai/lnpeer/peer"
)

// Redial backoff for bootstrap peers.
const (
	initialBackoff = time.Second
	maxBackoff     = 2 * time.Minute
)

// backoff grows by half on every failure up to maxBackoff.
type backoff struct {
	next time.Duration
}

func (b *backoff) reset() { b.next = initialBackoff }

// wait returns the delay before the next attempt, 50-150% of the current
// step, and advances the step.
func (b *backoff) wait() time.Duration {
	if b.next == 0 {
		b.reset()
	}
	d := time.Duration(float64(b.next) * (0.5 + rand.Float64()))
	b.next = min(time.Duration(float64(b.next)*1.5), maxBackoff)
	return d
}

// keepConnected dials target and redials after every disconnect until ctx
// is done or the node id is banned.
func (n *Node) keepConnected(ctx context.Context, target config.BootstrapPeer) {
	log := n.log.WithFields(logrus.Fields{
		"function": "keepConnected",
		"peer":     target.String(),
	})

	var b backoff
	for {
		p, err := n.Connect(ctx, target)
		switch {
		case errors.Is(err, peer.ErrBanned):
			log.Warn("Bootstrap peer is banned, giving up")
			return
		case err != nil:
			log.WithField("error", err.Error()).Debug("Bootstrap dial failed")
		default:
			select {
			case <-p.Done():
			case <-ctx.Done():
				return
			}
			if p.InitComplete() {
				b.reset()
			}
		}

		delay := b.wait()
		log.WithField("retry_in", delay.String()).Info("Reconnecting to bootstrap peer")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
