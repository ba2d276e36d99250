package transcript

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// fallbacks are tried in order when a line is not valid UTF-8. Boards in
// the field print GBK-encoded text from localized firmware.
var fallbacks = []encoding.Encoding{
	simplifiedchinese.GBK,
	simplifiedchinese.GB18030,
}

// Decode turns raw transcript bytes into text. Valid UTF-8 is used as is,
// otherwise each fallback encoding is tried, and as a last resort invalid
// bytes are dropped. Carriage returns are removed.
func Decode(raw []byte) string {
	var s string
	if utf8.Valid(raw) {
		s = string(raw)
	} else {
		s = decodeFallback(raw)
	}
	return strings.ReplaceAll(s, "\r", "")
}

func decodeFallback(raw []byte) string {
	for _, enc := range fallbacks {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		// x/text decoders substitute U+FFFD for invalid input instead of
		// failing, so a replacement rune means this encoding did not fit.
		if !strings.ContainsRune(string(out), utf8.RuneError) {
			return string(out)
		}
	}
	return strings.ToValidUTF8(string(raw), "")
}
