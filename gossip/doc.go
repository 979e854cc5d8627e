// Package gossip implements BOLT 7 topology gossip on top of the peer
// processor framework.
//
// A Repository holds nodes, channels, the blacklist and the peers'
// timestamp filters. Memory shards each map behind its own locks so
// unrelated peers never serialize on one mutex; Journal decorates any
// Repository with persistence in a store.Store.
//
// Every message passes the Validator before it may change the repository.
// A failed validation carries an Outcome that decides whether the message
// is dropped, answered with an error or treated as a protocol violation.
//
// Service registers one processor per gossip message type:
//
//	reg := peer.NewRegistry()
//	peer.RegisterCore(reg, peer.PingConfig{})
//	svc := gossip.NewService(gossip.Config{
//		Chains:     chains,
//		Repository: gossip.NewJournal(gossip.NewMemory(), st),
//		Peers:      manager,
//		Sync:       true,
//	})
//	svc.Register(reg)
//
// Accepted announcements are relayed to the other peers whose
// gossip_timestamp_filter selects them.
package gossip
