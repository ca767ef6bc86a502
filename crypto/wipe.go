package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe overwrites data with zeros.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	zeros := make([]byte, len(data))
	// The compare keeps the compiler from proving the copy dead.
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}

// Wipe erases the private key. The key pair must not be used afterwards.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	Wipe(kp.Private[:])
}
