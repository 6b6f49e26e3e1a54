package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathReplacer(t *testing.T) {
	var testdata = []struct {
		template string
		time     uint64
		number   uint64
		expect   string
	}{
		{"$RepresentationID$/$Time$.m4s", 900000, 7, "v1/900000.m4s"},
		{"seg-$Number$.m4s", 0, 42, "seg-42.m4s"},
		{"seg-$Number%05d$.m4s", 0, 42, "seg-00042.m4s"},
		{"$Bandwidth$/$Number$.ts", 0, 3, "128000/3.ts"},
		{"init.mp4", 0, 0, "init.mp4"},
		{"100%/$Number$.m4s", 0, 1, "100%/1.m4s"},
		{"a$$b/$Number$", 0, 5, "a$b/5"},
	}
	for _, elem := range testdata {
		r := NewPathReplacer(elem.template)
		assert.Equal(t, elem.expect, r.ToPath(elem.time, elem.number, "v1", 128000), elem.template)
	}
}
