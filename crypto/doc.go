// Package crypto implements the secp256k1 primitives of the Lightning peer
// protocol.
//
// It covers three concerns:
//
//   - [KeyPair]: node identity and ephemeral keys, generated from a caller
//     supplied entropy source so handshake test vectors can be reproduced.
//   - [ECDH] and [DH]: the BOLT 8 Diffie-Hellman, SHA256 of the compressed
//     shared point. DH adapts it to the flynn/noise DHFunc interface.
//   - [SignMessage] and [VerifyMessage]: double-SHA256 digests of gossip
//     messages signed with compact ECDSA.
//
// Example:
//
//	kp, err := crypto.GenerateKeyPair(rand.Reader)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("node id:", kp.PubKey())
package crypto
