// Package tlv implements the BigSize integer encoding and the TLV
// (type-length-value) stream format used by Lightning message extensions.
//
// # BigSize
//
// BigSize is a canonical variable-length unsigned integer:
//
//	value          encoding
//	< 0xfd         1 byte
//	<= 0xffff      0xfd + 2 bytes big-endian
//	<= 0xffffffff  0xfe + 4 bytes big-endian
//	otherwise      0xff + 8 bytes big-endian
//
// Decoding rejects any value that could have been written in fewer bytes.
//
// # Streams
//
// A stream is a sequence of records with strictly ascending types. Each
// message type owns a Registry of the record types it understands. Records
// of an unknown odd type are kept opaquely so a stream re-encodes byte for
// byte; an unknown even type fails the decode.
//
//	stream, err := tlv.Decode(extra, registry)
//	if err != nil {
//	    return err
//	}
//	if rec, ok := stream.Record(1); ok {
//	    networks := rec.Decoded.([]ChainHash)
//	}
package tlv
