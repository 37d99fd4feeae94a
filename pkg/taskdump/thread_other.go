//go:build !linux

package taskdump

// threadID is not tracked outside Linux.
func threadID() int {
	return -1
}
