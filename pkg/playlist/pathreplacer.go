package playlist

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRE = regexp.MustCompile(`\$(Time|Number|RepresentationID|Bandwidth)(%0\d+d)?\$`)

// PathReplacer expands DASH template identifiers
type PathReplacer struct {
	fmt     string
	literal bool
}

func NewPathReplacer(template string) *PathReplacer {

	var b strings.Builder
	last := 0
	for _, m := range identifierRE.FindAllStringSubmatchIndex(template, -1) {
		b.WriteString(escapeLiteral(template[last:m[0]]))
		last = m[1]
		// $Number%05d$ becomes %0[2]5d: flags go before the argument index
		flag, width := "", ""
		if m[4] >= 0 {
			flag, width = "0", template[m[4]+2:m[5]-1]
		}
		// Replace with go format parameters
		switch template[m[2]:m[3]] {
		case "Time":
			b.WriteString("%" + flag + "[1]" + width + "d")
		case "Number":
			b.WriteString("%" + flag + "[2]" + width + "d")
		case "RepresentationID":
			b.WriteString("%[3]s")
		case "Bandwidth":
			b.WriteString("%" + flag + "[4]" + width + "d")
		}
	}
	if last == 0 {
		return &PathReplacer{fmt: strings.ReplaceAll(template, "$$", "$"), literal: true}
	}
	b.WriteString(escapeLiteral(template[last:]))
	return &PathReplacer{fmt: b.String()}
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "%", "%%"), "$$", "$")
}

// ToPath fills in the identifiers
func (r *PathReplacer) ToPath(time, number uint64, representationId string, bandwidth uint64) string {
	if r.literal {
		return r.fmt
	}
	return fmt.Sprintf(r.fmt, time, number, representationId, bandwidth)
}
