package library

import (
	"fmt"
	"strconv"
	"time"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatDuration renders whole seconds as zero-padded mm:ss. Minutes do not
// roll over into hours, so 3661 becomes "61:01".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatElapsed is FormatDuration for a time.Duration, truncated to seconds.
func FormatElapsed(d time.Duration) string {
	return FormatDuration(int(d / time.Second))
}

// FormatBytes renders n in base-1024 units with up to two decimals.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	v = float64(int64(v*100+0.5)) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}
