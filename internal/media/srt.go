package media

import (
	"fmt"
	"math"
	"os"
	"strings"

	"autodubber/internal/domain"
)

// WriteSRT exports segments as a SubRip subtitle file.
func WriteSRT(segments []domain.Segment, path string) error {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatSRTTimestamp(seg.Start),
			formatSRTTimestamp(seg.End),
			strings.TrimSpace(seg.Text),
		)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// formatSRTTimestamp renders seconds as HH:MM:SS,mmm.
func formatSRTTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3_600_000
	millis -= h * 3_600_000
	m := millis / 60_000
	millis -= m * 60_000
	s := millis / 1000
	millis -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, millis)
}
