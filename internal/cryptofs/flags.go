package cryptofs

import "golang.org/x/sys/unix"

// normalizeFlags promotes O_WRONLY to O_RDWR when read is enabled, because
// the engine may later need a read-capable descriptor against the same
// fd (truncate-to-nonzero has to decrypt). O_RDONLY and O_RDWR pass
// through unchanged.
func normalizeFlags(flags int, readEnabled bool) int {
	if !readEnabled {
		return flags
	}
	if flags&unix.O_ACCMODE == unix.O_WRONLY {
		return (flags &^ unix.O_ACCMODE) | unix.O_RDWR
	}
	return flags
}
