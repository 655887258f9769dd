//go:build !unix

package arena

// mapSlab falls back to a regular allocation on platforms without an
// anonymous mmap path.
func mapSlab(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
