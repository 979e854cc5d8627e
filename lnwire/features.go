package lnwire

// FeatureBit is a bit position in a feature vector. Even bits are required
// ("it's ok to be odd"), odd bits optional.
type FeatureBit uint16

const (
	DataLossProtectRequired       FeatureBit = 0
	DataLossProtectOptional       FeatureBit = 1
	InitialRoutingSync            FeatureBit = 3
	UpfrontShutdownScriptRequired FeatureBit = 4
	UpfrontShutdownScriptOptional FeatureBit = 5
	GossipQueriesRequired         FeatureBit = 6
	GossipQueriesOptional         FeatureBit = 7
	TLVOnionPayloadRequired       FeatureBit = 8
	TLVOnionPayloadOptional       FeatureBit = 9
	GossipQueriesExRequired       FeatureBit = 10
	GossipQueriesExOptional       FeatureBit = 11
	StaticRemoteKeyRequired       FeatureBit = 12
	StaticRemoteKeyOptional       FeatureBit = 13
	PaymentAddrRequired           FeatureBit = 14
	PaymentAddrOptional           FeatureBit = 15
	MPPRequired                   FeatureBit = 16
	MPPOptional                   FeatureBit = 17
)

// KnownFeatures names every bit this implementation understands. A peer
// setting any other even bit cannot be talked to.
var KnownFeatures = map[FeatureBit]string{
	DataLossProtectRequired:       "data-loss-protect",
	DataLossProtectOptional:       "data-loss-protect",
	InitialRoutingSync:            "initial-routing-sync",
	UpfrontShutdownScriptRequired: "upfront-shutdown-script",
	UpfrontShutdownScriptOptional: "upfront-shutdown-script",
	GossipQueriesRequired:         "gossip-queries",
	GossipQueriesOptional:         "gossip-queries",
	TLVOnionPayloadRequired:       "tlv-onion",
	TLVOnionPayloadOptional:       "tlv-onion",
	GossipQueriesExRequired:       "gossip-queries-ex",
	GossipQueriesExOptional:       "gossip-queries-ex",
	StaticRemoteKeyRequired:       "static-remote-key",
	StaticRemoteKeyOptional:       "static-remote-key",
	PaymentAddrRequired:           "payment-addr",
	PaymentAddrOptional:           "payment-addr",
	MPPRequired:                   "multi-path-payments",
	MPPOptional:                   "multi-path-payments",
}

// IsRequired reports whether the bit is even.
func (b FeatureBit) IsRequired() bool {
	return b%2 == 0
}

// FeatureVector is a big-endian bitfield exactly as carried on the wire.
// The raw bytes are kept as received, leading zero bytes included, so that
// signed messages re-encode identically.
type FeatureVector []byte

// NewFeatureVector builds the minimal vector with the given bits set.
func NewFeatureVector(bits ...FeatureBit) FeatureVector {
	var f FeatureVector
	for _, b := range bits {
		f = f.Set(b)
	}
	return f
}

// IsSet reports whether bit b is set.
func (f FeatureVector) IsSet(b FeatureBit) bool {
	idx := int(b / 8)
	if idx >= len(f) {
		return false
	}
	return f[len(f)-1-idx]&(1<<(b%8)) != 0
}

// Set returns a vector with bit b set, growing it on the left if needed.
func (f FeatureVector) Set(b FeatureBit) FeatureVector {
	need := int(b/8) + 1
	out := f
	if need > len(f) {
		out = make(FeatureVector, need)
		copy(out[need-len(f):], f)
	} else {
		out = append(FeatureVector(nil), f...)
	}
	out[len(out)-1-int(b/8)] |= 1 << (b % 8)
	return out
}

// Bits returns the set bits in ascending order.
func (f FeatureVector) Bits() []FeatureBit {
	var bits []FeatureBit
	for i := len(f) - 1; i >= 0; i-- {
		for j := 0; j < 8; j++ {
			if f[i]&(1<<j) != 0 {
				bits = append(bits, FeatureBit((len(f)-1-i)*8+j))
			}
		}
	}
	return bits
}

// UnknownRequired returns the even bits set in f that are absent from known.
func (f FeatureVector) UnknownRequired(known map[FeatureBit]string) []FeatureBit {
	var unknown []FeatureBit
	for _, b := range f.Bits() {
		if !b.IsRequired() {
			continue
		}
		if _, ok := known[b]; !ok {
			unknown = append(unknown, b)
		}
	}
	return unknown
}

// Or returns the union of two vectors.
func (f FeatureVector) Or(other FeatureVector) FeatureVector {
	out := append(FeatureVector(nil), f...)
	for _, b := range other.Bits() {
		out = out.Set(b)
	}
	return out
}

// Bytes returns a copy of the raw vector.
func (f FeatureVector) Bytes() []byte {
	return append([]byte(nil), f...)
}
