package gossip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/lnpeer/clock"
	"github.com/opd-ai/lnpeer/events"
	"github.com/opd-ai/lnpeer/lnwire"
	"github.com/opd-ai/lnpeer/metrics"
	"github.com/opd-ai/lnpeer/peer"
)

// Processor registry names.
const (
	NodeAnnouncementProcessorName    = "node_announcement"
	ChannelAnnouncementProcessorName = "channel_announcement"
	ChannelUpdateProcessorName       = "channel_update"
	TimestampFilterProcessorName     = "gossip_timestamp_filter"
	QueryProcessorName               = "gossip_queries"
	SyncProcessorName                = "gossip_sync"
)

// DefaultSyncBacklog is how far back our own timestamp filter reaches.
const DefaultSyncBacklog = 14 * 24 * time.Hour

// Config wires the gossip processors to shared state.
type Config struct {
	// Chains are the chains whose gossip we accept.
	Chains     lnwire.ChainSet
	Repository Repository
	// Peers is the set relay forwards to; nil disables relay.
	Peers   PeerSet
	Events  events.Publisher
	Metrics *metrics.Metrics
	Clock   clock.TimeProvider
	// Sync makes us request gossip from peers that support gossip queries.
	Sync bool
	// SyncBacklog bounds the age of gossip requested by our timestamp
	// filter.
	SyncBacklog time.Duration
}

// Service owns the gossip processors of a node.
type Service struct {
	cfg       Config
	validator *Validator
	relay     *Relay
	log       *logrus.Entry
}

// NewService creates the gossip service. A nil repository is replaced by
// an empty in-memory one.
func NewService(cfg Config) *Service {
	if cfg.Repository == nil {
		cfg.Repository = NewMemory()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default{}
	}
	if cfg.SyncBacklog <= 0 {
		cfg.SyncBacklog = DefaultSyncBacklog
	}
	s := &Service{
		cfg:       cfg,
		validator: NewValidator(cfg.Chains, cfg.Repository),
		log:       logrus.WithField("package", "gossip"),
	}
	if cfg.Peers != nil {
		s.relay = NewRelay(cfg.Peers, cfg.Repository, cfg.Chains)
	}
	return s
}

// Repository returns the shared repository.
func (s *Service) Repository() Repository { return s.cfg.Repository }

// Validator returns the validator the processors use.
func (s *Service) Validator() *Validator { return s.validator }

// Register adds the gossip processors to reg. Register the core processors
// first so init reaches the sync processor after the handshake processor.
func (s *Service) Register(reg *peer.Registry) {
	reg.Register(NodeAnnouncementProcessorName,
		func() peer.Processor { return &NodeAnnouncementProcessor{svc: s} },
		lnwire.MsgNodeAnnouncement)
	reg.Register(ChannelAnnouncementProcessorName,
		func() peer.Processor { return &ChannelAnnouncementProcessor{svc: s} },
		lnwire.MsgChannelAnnouncement)
	reg.Register(ChannelUpdateProcessorName,
		func() peer.Processor { return &ChannelUpdateProcessor{svc: s} },
		lnwire.MsgChannelUpdate)
	reg.Register(TimestampFilterProcessorName,
		func() peer.Processor { return &TimestampFilterProcessor{svc: s} },
		lnwire.MsgGossipTimestampFilter)
	reg.Register(QueryProcessorName,
		func() peer.Processor { return &QueryProcessor{svc: s} },
		lnwire.MsgQueryShortChanIDs, lnwire.MsgQueryChannelRange)
	if s.cfg.Sync {
		reg.Register(SyncProcessorName,
			func() peer.Processor { return &SyncProcessor{svc: s} },
			lnwire.MsgInit, lnwire.MsgReplyChannelRange, lnwire.MsgReplyShortChanIDsEnd)
	}
}

// reject applies the outcome of a failed validation. Only Fatal outcomes
// return an error, which ends the connection.
func (s *Service) reject(ctx context.Context, p *peer.Peer, msg lnwire.Message, err error) (peer.Result, error) {
	s.cfg.Metrics.RecordValidationFailure(msg.MsgType().String())

	outcome := Reply
	var ve *ValidationError
	if errors.As(err, &ve) {
		outcome = ve.Outcome
	}

	log := p.Log().WithFields(logrus.Fields{
		"function": "reject",
		"type":     msg.MsgType().String(),
		"outcome":  outcome.String(),
		"error":    err.Error(),
	})

	switch outcome {
	case Drop:
		log.Debug("Dropping invalid gossip")
		return peer.Stop, nil
	case Fatal:
		log.Warn("Invalid gossip is fatal to the connection")
		return peer.Stop, fmt.Errorf("%w: %v", peer.ErrProtocolViolation, err)
	default:
		log.Info("Rejecting invalid gossip")
		if sendErr := p.SendContext(ctx, lnwire.NewConnectionError("%v", err)); sendErr != nil {
			return peer.Stop, sendErr
		}
		return peer.Stop, nil
	}
}

func (s *Service) broadcast(source *peer.Peer, msg lnwire.Message) {
	if s.relay == nil {
		return
	}
	s.relay.Broadcast(source, msg)
}
