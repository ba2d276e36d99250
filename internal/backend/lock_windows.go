//go:build windows

package backend

// lockFile is a no-op on Windows; FPGA hosts run Linux.
func lockFile(string) (func(), error) {
	return func() {}, nil
}
