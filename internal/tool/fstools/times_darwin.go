//go:build darwin

package fstools

import (
	"io/fs"
	"syscall"
	"time"
)

func statTimes(info fs.FileInfo) fileTimes {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileTimes{}
	}
	return fileTimes{
		created:  time.Unix(st.Birthtimespec.Unix()),
		accessed: time.Unix(st.Atimespec.Unix()),
	}
}
