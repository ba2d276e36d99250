package logcheck

import (
	"strings"
	"time"
)

// DefaultBannerTag prefixes the build timestamp the SDK prints at boot.
const DefaultBannerTag = "Nuclei SDK Build Time:"

// BannerLayout is the layout of the timestamp following the tag, as
// produced by the C __DATE__ ", " __TIME__ macros.
const BannerLayout = "Jan _2 2006, 15:04:05"

// FindBanner extracts and parses the timestamp after the last occurrence
// of tag in line. ok is false when the tag is absent or the timestamp does
// not parse.
func FindBanner(line, tag string) (stamp time.Time, raw string, ok bool) {
	if tag == "" {
		return time.Time{}, "", false
	}
	i := strings.LastIndex(line, tag)
	if i < 0 {
		return time.Time{}, "", false
	}
	raw = strings.TrimSpace(line[i+len(tag):])
	stamp, err := time.ParseInLocation(BannerLayout, collapseSpaces(raw), time.Local)
	if err != nil {
		return time.Time{}, raw, false
	}
	return stamp, raw, true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fresh reports whether a banner stamped at banner belongs to a build that
// finished at or after checkpoint. Both are compared at whole seconds, so a
// banner up to 999ms older than checkpoint still counts as fresh.
func Fresh(banner, checkpoint time.Time) bool {
	return !banner.Truncate(time.Second).Before(checkpoint.Truncate(time.Second))
}
