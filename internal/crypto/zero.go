package crypto

// Zero overwrites a byte slice in memory with zeros. Works on all
// operating systems; callers defer it over derived key material.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
