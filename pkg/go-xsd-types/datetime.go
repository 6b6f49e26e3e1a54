package xsd

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// DateTime is a xsd:dateTime. Values without zone are taken as UTC.
type DateTime time.Time

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z0700",
}

// ParseDateTime parses the lexical form of xsd:dateTime
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return DateTime(t), nil
		}
	}
	return DateTime{}, fmt.Errorf("invalid xsd:dateTime %q", s)
}

func (dt DateTime) String() string {
	return time.Time(dt).UTC().Format(time.RFC3339Nano)
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr
func (dt *DateTime) UnmarshalXMLAttr(attr xml.Attr) error {
	v, err := ParseDateTime(attr.Value)
	if err != nil {
		return err
	}
	*dt = v
	return nil
}

// MarshalXMLAttr implements xml.MarshalerAttr
func (dt DateTime) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: dt.String()}, nil
}
