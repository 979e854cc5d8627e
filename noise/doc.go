// Package noise implements the BOLT 8 authenticated key agreement and the
// transport cipher states it produces.
//
// The handshake is Noise_XK_secp256k1_ChaChaPoly_SHA256 with the prologue
// "lightning", driven by the flynn/noise library with a secp256k1 DHFunc.
// The initiator must know the responder's static key; the responder learns
// the initiator's static key in act three.
//
// Message flow:
//
//	Initiator                              Responder
//	─────────                              ─────────
//	act one   -> e, es      (50 bytes)
//	                                       act two   <- e, ee  (50 bytes)
//	act three -> s, se      (66 bytes)
//	[session established]
//
// Every act is prefixed with the handshake version byte, 0. A [Machine] is
// advanced one act at a time with Step and never performs I/O itself:
//
//	m, err := noise.NewMachine(noise.Initiator, local, remoteKey)
//	actOne, err := m.Step(nil)
//	// write actOne, read noise.ActLength bytes
//	actThree, err := m.Step(actTwo)
//	session, err := m.Session()
//
// # Transport
//
// Once Done, the Session encrypts one Lightning message per frame: an
// encrypted two byte length followed by the encrypted body, each with a
// 16 byte MAC. Each direction rotates its key after 1000 uses of a nonce
// following ck', k' = HKDF(ck, k).
package noise
