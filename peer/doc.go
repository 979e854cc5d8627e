// Package peer runs one Lightning connection: the BOLT 8 handshake, the
// init exchange and the dispatch of every later message to the processors
// registered for its type.
//
// A Registry lists processor factories and the message types each handles.
// Every peer instantiates its own copy of each processor, and the peer's
// read goroutine calls them one at a time, so a processor never races
// with another processor of the same peer. Processors that report
// IsHandshakeAware receive nothing until the handshake completed; the
// handshake processor itself is the exception.
//
//	reg := peer.NewRegistry()
//	peer.RegisterCore(reg, peer.PingConfig{})
//	p, err := peer.New(conn, peer.Outbound, remoteKey, cfg, reg)
//	if err != nil {
//	    return err
//	}
//	err = p.Run(ctx)
//
// Run owns the connection. The read loop, the writer, the handshake
// watchdog and the runners of handshake aware processors share one
// errgroup: the first to fail cancels the others and closes the
// connection. Outbound messages from any goroutine are queued and written
// in order by the single writer.
//
// Errors wrapping ErrProtocolViolation are connection-fatal and, once the
// transport is keyed, preceded by a connection-level error message.
package peer
