package peer

import (
	"context"
	"sync"

	"github.com/opd-ai/lnpeer/lnwire"
)

// Result tells the dispatcher whether later processors see the message.
type Result uint8

const (
	// Continue passes the message on to the next registered processor.
	Continue Result = iota
	// Stop claims the message for this peer; later processors are skipped.
	Stop
)

// Processor handles messages of the types it was registered for. One
// instance exists per processor per peer, and a peer never runs two of its
// processors at once, so instances need no locking against the dispatcher.
//
// A returned error is fatal to the connection.
type Processor interface {
	Name() string
	// IsHandshakeAware reports whether the processor may only run once the
	// transport handshake completed.
	IsHandshakeAware() bool
	Handle(ctx context.Context, p *Peer, msg lnwire.Message) (Result, error)
}

// Starter is implemented by processors that act when the connection opens,
// before any message is read. Only processors that are not handshake aware
// are started.
type Starter interface {
	Start(ctx context.Context, p *Peer) error
}

// Runner is implemented by handshake aware processors that need a
// background task for the rest of the connection. Run starts when the
// handshake completes and must return when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, p *Peer) error
}

// Factory creates the per-peer instance of a processor.
type Factory func() Processor

type registration struct {
	name    string
	factory Factory
	types   []lnwire.MessageType
}

// Registry is the table of processors every peer instantiates. It must be
// fully populated before the first peer connects.
type Registry struct {
	mu   sync.RWMutex
	regs []registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a processor for the given message types. Dispatch order
// follows registration order.
func (r *Registry) Register(name string, factory Factory, types ...lnwire.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = append(r.regs, registration{name: name, factory: factory, types: types})
}

// Names returns the registered processor names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.regs))
	for i, reg := range r.regs {
		names[i] = reg.name
	}
	return names
}

// table is one peer's instantiated processors.
type table struct {
	all    []Processor
	byType map[lnwire.MessageType][]Processor
}

func (r *Registry) instantiate() table {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := table{byType: make(map[lnwire.MessageType][]Processor)}
	for _, reg := range r.regs {
		proc := reg.factory()
		t.all = append(t.all, proc)
		for _, typ := range reg.types {
			t.byType[typ] = append(t.byType[typ], proc)
		}
	}
	return t
}

// RegisterCore adds the processors every connection needs: the handshake
// and init exchange, then ping/pong.
func RegisterCore(reg *Registry, ping PingConfig) {
	reg.Register(HandshakeProcessorName, func() Processor { return NewHandshakeProcessor() },
		lnwire.MsgHandshakeAct, lnwire.MsgInit, lnwire.MsgError, lnwire.MsgWarning)
	reg.Register(PingProcessorName, func() Processor { return NewPingProcessor(ping) },
		lnwire.MsgPing, lnwire.MsgPong)
}
