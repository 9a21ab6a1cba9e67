//go:build !unix

package devices

// Windows COM ports have no permission bits to probe; opening is the only check.
func canReadWrite(string) bool {
	return true
}
