package cryptofs

import (
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"
)

// Getattr implements the merged getattr/fgetattr callback of spec §4.5.
func (e *Engine) Getattr(path string, stat *fuse.Stat_t, fh Handle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s *fileState
	if fh != NoHandle {
		s = e.byHandle[fh]
	}
	if s == nil {
		if h, ok := e.byPath[path]; ok {
			s = e.byHandle[h]
		}
	}

	if s != nil {
		var st unix.Stat_t
		if err := unix.Fstat(int(s.backing.Fd()), &st); err != nil {
			return toErrno(err)
		}
		fillStat(stat, &st)

		switch {
		case s.bufferLoaded:
			stat.Size = int64(len(s.buffer))
		case s.flags&unix.O_APPEND != 0:
			stat.Size += int64(len(s.buffer))
		}
		return 0
	}

	rel := relPath(path)
	var st unix.Stat_t
	if err := unix.Fstatat(e.backingRootFD, rel, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return toErrno(err)
	}
	fillStat(stat, &st)

	if !e.readEnabled && stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		stat.Mode &^= 0444
	}
	return 0
}

// Statfs always reports the backing root's filesystem statistics,
// ignoring the mountpoint path argument (spec's statfs contract).
func (e *Engine) Statfs(path string, stat *fuse.Statfs_t) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st unix.Statfs_t
	if err := unix.Fstatfs(e.backingRootFD, &st); err != nil {
		return toErrno(err)
	}

	stat.Bsize = uint64(st.Bsize)
	stat.Frsize = uint64(st.Frsize)
	stat.Blocks = st.Blocks
	stat.Bfree = st.Bfree
	stat.Bavail = st.Bavail
	stat.Files = st.Files
	stat.Ffree = st.Ffree
	stat.Favail = st.Ffree
	stat.Namemax = uint64(st.Namelen)
	return 0
}

func fillStat(dst *fuse.Stat_t, src *unix.Stat_t) {
	dst.Dev = uint64(src.Dev)
	dst.Ino = src.Ino
	dst.Mode = src.Mode
	dst.Nlink = uint32(src.Nlink)
	dst.Uid = src.Uid
	dst.Gid = src.Gid
	dst.Rdev = uint64(src.Rdev)
	dst.Size = src.Size
	dst.Atim = fuse.Timespec{Sec: src.Atim.Sec, Nsec: src.Atim.Nsec}
	dst.Mtim = fuse.Timespec{Sec: src.Mtim.Sec, Nsec: src.Mtim.Nsec}
	dst.Ctim = fuse.Timespec{Sec: src.Ctim.Sec, Nsec: src.Ctim.Nsec}
	dst.Blksize = src.Blksize
	dst.Blocks = src.Blocks
}
