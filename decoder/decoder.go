// Package decoder maps a compact type tag to the payload length, parse
// function, and display format needed to turn a raw telegram payload into
// a TypedValue — the Decoder Registry of spec §4.3.
package decoder

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Kind tags the variant a TypedValue holds.
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindText
	KindRawBytes
)

// TypedValue is the tagged variant returned by a Decoder's Parse function.
// Downstream sinks require only the numeric cases; Float reports whether
// one is available.
type TypedValue struct {
	Kind     Kind
	Int64    int64
	Float64  float64
	Text     string
	RawBytes []byte
}

func intValue(v int64) TypedValue     { return TypedValue{Kind: KindInt64, Int64: v} }
func floatValue(v float64) TypedValue { return TypedValue{Kind: KindFloat64, Float64: v} }
func textValue(v string) TypedValue   { return TypedValue{Kind: KindText, Text: v} }

// Float returns the value as a float64 when the variant is numeric.
func (v TypedValue) Float() (float64, bool) {
	switch v.Kind {
	case KindInt64:
		return float64(v.Int64), true
	case KindFloat64:
		return v.Float64, true
	default:
		return 0, false
	}
}

// Decoder is the (payload length, parse function, display format) triple
// the registry maps a type tag to.
type Decoder struct {
	PayloadLen uint8
	Parse      func(payload []byte) (TypedValue, error)
	Format     func(TypedValue) string
}

func fixedFormat(pattern string) func(TypedValue) string {
	return func(v TypedValue) string {
		switch v.Kind {
		case KindInt64:
			return fmt.Sprintf(pattern, v.Int64)
		case KindFloat64:
			return fmt.Sprintf(pattern, v.Float64)
		default:
			return fmt.Sprintf(pattern, v.Text)
		}
	}
}

func errShortPayload(tag string, want int, got int) error {
	return fmt.Errorf("decoder %q: need %d payload bytes, got %d", tag, want, got)
}

// bcd decodes one binary-coded-decimal byte: each nibble is a decimal digit.
func bcd(b byte) int {
	return int((b&0xf0)>>4)*10 + int(b&0x0f)
}

// registry holds the required tags from spec §4.3.
var registry = map[string]Decoder{
	"uint8": {
		PayloadLen: 1,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 1 {
				return TypedValue{}, errShortPayload("uint8", 1, len(p))
			}
			return intValue(int64(p[0])), nil
		},
		Format: fixedFormat("%3d"),
	},
	"uint16": {
		PayloadLen: 2,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 2 {
				return TypedValue{}, errShortPayload("uint16", 2, len(p))
			}
			return intValue(int64(binary.LittleEndian.Uint16(p))), nil
		},
		Format: fixedFormat("%5d"),
	},
	"uint32": {
		PayloadLen: 4,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 4 {
				return TypedValue{}, errShortPayload("uint32", 4, len(p))
			}
			return intValue(int64(binary.LittleEndian.Uint32(p))), nil
		},
		Format: fixedFormat("%9d"),
	},
	"degC": {
		PayloadLen: 2,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 2 {
				return TypedValue{}, errShortPayload("degC", 2, len(p))
			}
			raw := int16(binary.LittleEndian.Uint16(p))
			return floatValue(0.1 * float64(raw)), nil
		},
		Format: fixedFormat("%+6.1f °C"),
	},
	"uint8h": {
		PayloadLen: 1,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 1 {
				return TypedValue{}, errShortPayload("uint8h", 1, len(p))
			}
			return floatValue(0.5 * float64(p[0])), nil
		},
		Format: fixedFormat("%5.1f"),
	},
	"systime": {
		PayloadLen: 8,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < 8 {
				return TypedValue{}, errShortPayload("systime", 8, len(p))
			}
			year := 100*bcd(p[0]) + bcd(p[1])
			month := bcd(p[2])
			day := bcd(p[3])
			hour := bcd(p[5])
			minute := bcd(p[6])
			second := bcd(p[7])
			wd, err := Weekday(p)
			if err != nil {
				return TypedValue{}, err
			}
			t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
			return textValue(fmt.Sprintf("%s, %s", weekdayNames[wd], t.Format("2006-01-02 15:04:05"))), nil
		},
		Format: fixedFormat("%-26s"),
	},
}

// weekdayNames indexes the weekday computed by Weekday: 0=Monday .. 6=Sunday.
var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Weekday returns the weekday encoded in a systime payload's 5th byte,
// independent of the calendar date, per spec §4.3: (bcd(b4)-1) mod 7. The
// systime decoder uses this directly so the displayed weekday reflects the
// controller's own DOW byte rather than one recomputed from Y/M/D, matching
// the original's use of the raw tm_wday field.
func Weekday(payload []byte) (int, error) {
	if len(payload) < 5 {
		return 0, errShortPayload("systime", 8, len(payload))
	}
	w := (bcd(payload[4]) - 1) % 7
	if w < 0 {
		w += 7
	}
	return w, nil
}

// Lookup resolves a type tag from the registry, or, if tagOrLen parses as
// an integer literal N, returns a decoder that reads N raw bytes and
// displays them as lowercase hex.
func Lookup(tagOrLen string) (Decoder, error) {
	if d, ok := registry[tagOrLen]; ok {
		return d, nil
	}

	n, err := strconv.ParseInt(tagOrLen, 0, 16)
	if err != nil || n <= 0 || n > 255 {
		return Decoder{}, fmt.Errorf("decoder: unknown type tag %q", tagOrLen)
	}

	length := uint8(n)
	format := fmt.Sprintf("%%%ds", 2*length)
	return Decoder{
		PayloadLen: length,
		Parse: func(p []byte) (TypedValue, error) {
			if len(p) < int(length) {
				return TypedValue{}, errShortPayload(tagOrLen, int(length), len(p))
			}
			return TypedValue{Kind: KindRawBytes, RawBytes: p[:length], Text: hex.EncodeToString(p[:length])}, nil
		},
		Format: fixedFormat(format),
	}, nil
}
