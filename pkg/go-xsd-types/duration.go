// Package xsd implements the XML schema attribute types used by DASH manifests.
package xsd

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationRE = regexp.MustCompile(`^(-)?P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:\.(\d+))?S)?)?$`)

	ErrInvalidDuration = errors.New("invalid xsd:duration")
	// Years and months have no fixed length
	ErrNotConvertible = errors.New("xsd:duration with years or months is not convertible")
)

// Duration is a xsd:duration split into its components
type Duration struct {
	Negative    bool
	Years       int64
	Months      int64
	Days        int64
	Hours       int64
	Minutes     int64
	Seconds     int64
	Nanoseconds int64
}

// ParseDuration parses the lexical form, e.g. PT1H2M3.5S
func ParseDuration(s string) (Duration, error) {
	var d Duration
	s = strings.TrimSpace(s)
	m := durationRE.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return d, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	d.Negative = m[1] == "-"
	fields := []*int64{nil, nil, &d.Years, &d.Months, &d.Days, &d.Hours, &d.Minutes, &d.Seconds}
	for i := 2; i < len(fields); i++ {
		if m[i] == "" {
			continue
		}
		v, err := strconv.ParseInt(m[i], 10, 64)
		if err != nil {
			return d, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		*fields[i] = v
	}
	if frac := m[8]; frac != "" {
		// Nanosecond precision, extra digits are truncated
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		ns, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return d, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		d.Nanoseconds = ns
	}
	return d, nil
}

// ToNanoseconds returns the duration in nanoseconds
func (d Duration) ToNanoseconds() (int64, error) {
	if d.Years != 0 || d.Months != 0 {
		return 0, ErrNotConvertible
	}
	ns := d.Days*int64(24*time.Hour) +
		d.Hours*int64(time.Hour) +
		d.Minutes*int64(time.Minute) +
		d.Seconds*int64(time.Second) +
		d.Nanoseconds
	if d.Negative {
		ns = -ns
	}
	return ns, nil
}

// ToDuration is ToNanoseconds as time.Duration, 0 when not convertible
func (d Duration) ToDuration() time.Duration {
	ns, err := d.ToNanoseconds()
	if err != nil {
		return 0
	}
	return time.Duration(ns)
}

// FromDuration splits a time.Duration into hours, minutes, seconds and nanoseconds
func FromDuration(duration time.Duration) Duration {
	var d Duration
	if duration < 0 {
		d.Negative = true
		duration = -duration
	}
	d.Hours = int64(duration / time.Hour)
	d.Minutes = int64(duration / time.Minute % 60)
	d.Seconds = int64(duration / time.Second % 60)
	d.Nanoseconds = int64(duration % time.Second)
	return d
}

func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.Years != 0 {
		fmt.Fprintf(&b, "%dY", d.Years)
	}
	if d.Months != 0 {
		fmt.Fprintf(&b, "%dM", d.Months)
	}
	if d.Days != 0 {
		fmt.Fprintf(&b, "%dD", d.Days)
	}
	if d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 && d.Nanoseconds == 0 {
		if b.Len() <= 2 {
			b.WriteString("T0S")
		}
		return b.String()
	}
	b.WriteByte('T')
	if d.Hours != 0 {
		fmt.Fprintf(&b, "%dH", d.Hours)
	}
	if d.Minutes != 0 {
		fmt.Fprintf(&b, "%dM", d.Minutes)
	}
	if d.Seconds != 0 || d.Nanoseconds != 0 {
		b.WriteString(strconv.FormatInt(d.Seconds, 10))
		var buf [10]byte
		if w := fmtNano(buf[:], d.Nanoseconds); w < len(buf) {
			b.WriteByte('.')
			b.Write(buf[w:])
		}
		b.WriteByte('S')
	}
	return b.String()
}

// fmtNano writes the nine digit fraction v into the tail of buf, without
// trailing zeros. It returns the index of the first written byte, or
// len(buf)+1 if v is zero and nothing was written.
func fmtNano(buf []byte, v int64) int {
	w := len(buf)
	print := false
	for i := 0; i < 9; i++ {
		digit := v % 10
		print = print || digit != 0
		if print {
			w--
			buf[w] = byte(digit) + '0'
		}
		v /= 10
	}
	if !print {
		return len(buf) + 1
	}
	return w
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr
func (d *Duration) UnmarshalXMLAttr(attr xml.Attr) error {
	v, err := ParseDuration(attr.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalXMLAttr implements xml.MarshalerAttr
func (d Duration) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: d.String()}, nil
}
