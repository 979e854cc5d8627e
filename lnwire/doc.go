// Package lnwire implements the Lightning peer message codecs of BOLT 1 and
// BOLT 7.
//
// Every message is a two byte big-endian type followed by fixed-width fields
// in protocol order, length-prefixed variable fields, and finally an optional
// TLV extension. Whatever bytes remain after the fixed fields are handed to
// the tlv package, so a malformed trailer surfaces as a TLV error.
//
// # Value Types
//
// Fixed-size protocol values (PubKey, Sig, ChainHash, ChannelID, RGB, Alias)
// are byte arrays with explicit length-checking constructors and explicit
// Bytes accessors. There are no implicit conversions from raw slices.
//
//	key, err := lnwire.NewPubKey(raw)
//	if err != nil {
//	    return err
//	}
//	pub, err := key.Key() // canonical compressed point check
//
// # Messages
//
// The command registry maps each known type to a constructor. Unknown types
// decode into *Unknown so that the peer can apply the odd/even rule.
//
//	msg, err := lnwire.DecodeMessage(frame)
//	if err != nil {
//	    return err
//	}
//	switch m := msg.(type) {
//	case *lnwire.Ping:
//	    ...
//	}
package lnwire
