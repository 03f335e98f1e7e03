package util

import "runtime"

// Wipe zeroes b in place. Used for peppers, cookie keys and peppered
// password buffers once they are no longer needed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
