//go:build linux

package fstools

import (
	"io/fs"
	"syscall"
	"time"
)

// statTimes reads the access time. Linux stat does not report a birth
// time, so created stays empty.
func statTimes(info fs.FileInfo) fileTimes {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileTimes{}
	}
	return fileTimes{accessed: time.Unix(st.Atim.Unix())}
}
