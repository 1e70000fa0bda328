package vma

import "golang.org/x/sys/unix"

// adviseHuge applies the huge-page hint on platforms where it is
// meaningful. Best-effort only: a failed hint is not a fatal error, it
// just means the host will back the mapping with ordinary pages.
func adviseHuge(r *Region, flags Flags) {
	if flags&FlagHuge == 0 || len(r.mem) == 0 {
		return
	}
	_ = unix.Madvise(r.mem, unix.MADV_HUGEPAGE)
}
