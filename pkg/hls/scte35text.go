package hls

import "strings"

// Signal is the SCTE-35 signal carried by an EXT-X-DATERANGE line, decoded
// from its text attributes (spec.md §3.2, §4.3).
type Signal struct {
	ID                string
	Kind              SignalKind
	PTS               *uint64
	DurationSec       *float64
	SegmentationType  string
	UPID              string
	AutoReturn        *bool
	SegmentNum        *int
	SegmentsExpected  *int
	BinaryOut         string // raw SCTE35-OUT / SCTE35-CMD hex, "0x..." if present
	BinaryIn          string // raw SCTE35-IN hex, if present
}

// SignalKind mirrors spec.md §3.2.
type SignalKind int

const (
	KindSpliceInsert SignalKind = iota
	KindTimeSignal
	KindReturnSignal
)

// segmentationTypeNames maps SCTE-35 2023 Table 10.3.3.1 segmentation_type_id
// values (and their canonical names) used by the classifier below.
var segmentationTypeNames = map[string]string{
	"0x22": "Break Start",
	"0x23": "Break End",
	"0x10": "Program Start",
	"0x11": "Program End",
	"0x30": "Provider Advertisement Start",
	"0x31": "Provider Advertisement End",
	"0x32": "Distributor Advertisement Start",
	"0x33": "Distributor Advertisement End",
	"0x34": "Provider Placement Opportunity Start",
	"0x35": "Provider Placement Opportunity End",
	"0x36": "Distributor Placement Opportunity Start",
	"0x37": "Distributor Placement Opportunity End",
}

// breakStartTypes and breakEndTypes are the segmentation_type names (spec.md
// §3.2) that independently signal a break boundary.
var breakStartTypes = map[string]bool{
	"Provider Ad":                              true,
	"Distributor Ad":                           true,
	"Break Start":                              true,
	"Placement Opportunity Start":              true,
	"Provider Advertisement Start":             true,
	"Distributor Advertisement Start":          true,
	"Provider Placement Opportunity Start":     true,
	"Distributor Placement Opportunity Start":  true,
}

var breakEndTypes = map[string]bool{
	"Break End":     true,
	"Program Start": true,
}

// ParseDaterangeSignal classifies an EXT-X-DATERANGE line as SCTE-35 (spec.md
// §4.3) and decodes its attributes into a Signal. ok is false if the line
// carries none of the classifying attributes.
func ParseDaterangeSignal(l Line) (sig Signal, ok bool) {
	if l.Kind != KindDateRange {
		return Signal{}, false
	}
	attrs := l.Attrs

	_, hasCmd := attrs["SCTE35-CMD"]
	_, hasOut := attrs["SCTE35-OUT"]
	_, hasIn := attrs["SCTE35-IN"]
	_, hasSegType := attrs["X-SEGMENTATION-TYPE"]
	_, hasBreakDur := attrs["X-BREAK-DURATION"]
	class, _ := attrs["CLASS"]
	isSCTEClass := class.Kind == AttrString && strings.Contains(strings.ToLower(class.Str), "scte35")

	if !hasCmd && !hasOut && !hasIn && !hasSegType && !hasBreakDur && !isSCTEClass {
		return Signal{}, false
	}

	sig = Signal{}
	if idv, ok := attrs["ID"]; ok {
		sig.ID = idv.Str
	}

	if cmd, ok := attrs["SCTE35-CMD"]; ok && cmd.Kind == AttrHex {
		sig.BinaryOut = cmd.Hex
	}
	if out, ok := attrs["SCTE35-OUT"]; ok {
		if out.Kind == AttrHex {
			sig.BinaryOut = out.Hex
		}
	}
	if in, ok := attrs["SCTE35-IN"]; ok {
		if in.Kind == AttrHex {
			sig.BinaryIn = in.Hex
		}
	}

	if segType, ok := attrs["X-SEGMENTATION-TYPE"]; ok {
		sig.SegmentationType = resolveSegmentationTypeName(segType)
	}
	if dur, ok := attrs["X-BREAK-DURATION"]; ok && dur.Kind == AttrNumber {
		d := dur.Num
		sig.DurationSec = &d
	}
	if dur, ok := attrs["DURATION"]; ok && dur.Kind == AttrNumber && sig.DurationSec == nil {
		d := dur.Num
		sig.DurationSec = &d
	}
	if upid, ok := attrs["X-UPID"]; ok {
		sig.UPID = upid.String()
	}
	if sn, ok := attrs["X-SEGMENT-NUM"]; ok && sn.Kind == AttrNumber {
		n := int(sn.Num)
		sig.SegmentNum = &n
	}
	if se, ok := attrs["X-SEGMENTS-EXPECTED"]; ok && se.Kind == AttrNumber {
		n := int(se.Num)
		sig.SegmentsExpected = &n
	}
	if ar, ok := attrs["X-AUTO-RETURN"]; ok && ar.Kind == AttrEnum {
		b := ar.Bool()
		sig.AutoReturn = &b
	}

	switch {
	case hasOut || sig.SegmentationType != "" && breakStartTypes[sig.SegmentationType]:
		sig.Kind = KindSpliceInsert
	case hasIn || breakEndTypes[sig.SegmentationType]:
		sig.Kind = KindReturnSignal
	case sig.DurationSec != nil && *sig.DurationSec > 0:
		sig.Kind = KindTimeSignal
	default:
		sig.Kind = KindSpliceInsert
	}
	return sig, true
}

func resolveSegmentationTypeName(v AttrValue) string {
	switch v.Kind {
	case AttrHex:
		if name, ok := segmentationTypeNames[v.Hex]; ok {
			return name
		}
		return v.Hex
	case AttrNumber:
		key := hexKeyFromNumber(int(v.Num))
		if name, ok := segmentationTypeNames[key]; ok {
			return name
		}
		return v.String()
	default:
		return v.Str
	}
}

func hexKeyFromNumber(n int) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "0x0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{hexDigits[n%16]}, b...)
		n /= 16
	}
	return "0x" + string(b)
}

// IsAdBreakStart implements the is-ad-break-start predicate (spec.md §3.2).
func (s Signal) IsAdBreakStart() bool {
	if s.Kind == KindSpliceInsert {
		return true
	}
	if breakStartTypes[s.SegmentationType] {
		return true
	}
	if s.Kind == KindTimeSignal && s.DurationSec != nil && *s.DurationSec > 0 {
		return true
	}
	return false
}

// IsAdBreakEnd implements the is-ad-break-end predicate (spec.md §3.2).
func (s Signal) IsAdBreakEnd() bool {
	if s.Kind == KindReturnSignal {
		return true
	}
	return breakEndTypes[s.SegmentationType]
}
