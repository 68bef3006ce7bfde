package session

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// TimestampLayout prefixes every recording file name
	TimestampLayout = "2006-01-02_15-04-05"

	maxNamePartLen   = 127
	emptyNamePart    = "unknown"
	recordingFileExt = ".wav"
)

// SanitizeNamePart makes name usable as a single file name component: spaces and
// path separators become underscores, invalid UTF-8 is replaced, and the result is
// capped at maxNamePartLen bytes on a rune boundary. Applying it twice changes nothing.
func SanitizeNamePart(name string) string {
	name = strings.ToValidUTF8(name, "_")
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\':
			return '_'
		}
		return r
	}, name)

	if len(name) > maxNamePartLen {
		cut := maxNamePartLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}

	if name == "" {
		return emptyNamePart
	}
	return name
}

// FileName builds <timestamp>_<mic>_by_<app>.wav using local time
func FileName(at time.Time, micName, appName string) string {
	return at.Local().Format(TimestampLayout) + "_" +
		SanitizeNamePart(micName) + "_by_" +
		SanitizeNamePart(appName) + recordingFileExt
}

// NumberedFileName inserts -n before the extension of name. n of zero returns
// name unchanged.
func NumberedFileName(name string, n int) string {
	if n == 0 {
		return name
	}
	return strings.TrimSuffix(name, recordingFileExt) + "-" + strconv.Itoa(n) + recordingFileExt
}
