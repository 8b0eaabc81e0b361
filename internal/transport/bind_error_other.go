//go:build !unix && !windows

package transport

func isAddrInUse(err error) bool {
	return false
}
