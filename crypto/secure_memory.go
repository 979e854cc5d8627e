package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes overwrites sensitive data in place.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	zeros := make([]byte, len(data))
	// compare first so the copy is not elided
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}
