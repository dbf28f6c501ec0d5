package scte35

import (
	"encoding/base64"
	"strconv"
)

// segmentation_upid_type values (Table 19).
const (
	UPIDTypeNotUsed     = 0x00
	UPIDTypeUserDefined = 0x01
	UPIDTypeISCI        = 0x02
	UPIDTypeAdID        = 0x03
	UPIDTypeUMID        = 0x04
	UPIDTypeISANDep     = 0x05
	UPIDTypeISAN        = 0x06
	UPIDTypeTID         = 0x07
	UPIDTypeTI          = 0x08
	UPIDTypeADI         = 0x09
	UPIDTypeEIDR        = 0x0a
	UPIDTypeATSC        = 0x0b
	UPIDTypeMPU         = 0x0c
	UPIDTypeMID         = 0x0d
	UPIDTypeADS         = 0x0e
	UPIDTypeURI         = 0x0f
	UPIDTypeUUID        = 0x10
	UPIDTypeSCR         = 0x11
)

var upidTypeNames = map[byte]string{
	UPIDTypeNotUsed:     "Not Used",
	UPIDTypeUserDefined: "User Defined",
	UPIDTypeISCI:        "ISCI",
	UPIDTypeAdID:        "Ad-ID",
	UPIDTypeUMID:        "UMID",
	UPIDTypeISANDep:     "ISAN (deprecated)",
	UPIDTypeISAN:        "ISAN",
	UPIDTypeTID:         "TID",
	UPIDTypeTI:          "TI",
	UPIDTypeADI:         "ADI",
	UPIDTypeEIDR:        "EIDR",
	UPIDTypeATSC:        "ATSC Content Identifier",
	UPIDTypeMPU:         "MPU()",
	UPIDTypeMID:         "MID()",
	UPIDTypeADS:         "ADS Information",
	UPIDTypeURI:         "URI",
	UPIDTypeUUID:        "UUID",
	UPIDTypeSCR:         "SCR",
}

// decodeUPID returns the human-readable type name and a text rendering of
// the value (spec.md §3.2): TI as a decimal number, EIDR, UMID, UUID and ATSC
// as lowercase hex, ISAN and MPU as base64, Not Used as "", and every other
// type as the raw bytes taken as a string. Structured encodings are not
// decoded further; this package never drops the raw bytes (UPIDRaw).
func decodeUPID(upidType byte, raw []byte) (typeName, text string) {
	typeName = upidTypeNames[upidType]
	if typeName == "" {
		typeName = "Unknown"
	}
	switch upidType {
	case UPIDTypeNotUsed:
		return typeName, ""
	case UPIDTypeISAN, UPIDTypeISANDep, UPIDTypeMPU:
		return typeName, base64.StdEncoding.EncodeToString(raw)
	case UPIDTypeTI:
		var v uint64
		for _, b := range raw {
			v = v<<8 | uint64(b)
		}
		return typeName, strconv.FormatUint(v, 10)
	case UPIDTypeEIDR, UPIDTypeUMID, UPIDTypeUUID, UPIDTypeATSC:
		return typeName, hexString(raw)
	default:
		return typeName, string(raw)
	}
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

// segmentation_type_id names (Table 22), the subset the rewriter classifies
// ad breaks on (spec.md §3.2); anything else renders as a bare hex id.
var segmentationTypeNames = map[byte]string{
	0x00: "Not Indicated",
	0x01: "Content Identification",
	0x10: "Program Start",
	0x11: "Program End",
	0x12: "Program Early Termination",
	0x13: "Program Breakaway",
	0x14: "Program Resumption",
	0x15: "Program Runover Planned",
	0x16: "Program Runover Unplanned",
	0x17: "Program Overlap Start",
	0x20: "Chapter Start",
	0x21: "Chapter End",
	0x22: "Break Start",
	0x23: "Break End",
	0x30: "Provider Advertisement Start",
	0x31: "Provider Advertisement End",
	0x32: "Distributor Advertisement Start",
	0x33: "Distributor Advertisement End",
	0x34: "Provider Placement Opportunity Start",
	0x35: "Provider Placement Opportunity End",
	0x36: "Distributor Placement Opportunity Start",
	0x37: "Distributor Placement Opportunity End",
	0x44: "Provider Ad Block Start",
	0x45: "Provider Ad Block End",
	0x46: "Distributor Ad Block Start",
	0x47: "Distributor Ad Block End",
}

// SegmentationTypeName renders a segmentation_type_id as a human-readable
// name, falling back to a hex literal for ids this package doesn't know.
func SegmentationTypeName(id byte) string {
	if name, ok := segmentationTypeNames[id]; ok {
		return name
	}
	return "0x" + hexString([]byte{id})
}

// breakStartTypeIDs and breakEndTypeIDs are the segmentation_type_id values
// that independently bound an ad break (spec.md §3.2), the binary-layer
// counterparts of hls.breakStartTypes/breakEndTypes. The end set also counts
// the Provider/Distributor Advertisement End and Placement Opportunity End
// ids, which hls.breakEndTypes does not.
var breakStartTypeIDs = map[byte]bool{
	0x22: true, 0x30: true, 0x32: true, 0x34: true, 0x36: true,
}

var breakEndTypeIDs = map[byte]bool{
	0x23: true, 0x31: true, 0x33: true, 0x35: true, 0x37: true, 0x10: true,
}

// IsAdBreakStart reports whether this segmentation_descriptor independently
// signals the start of an ad break.
func (sd *SegmentationDescriptor) IsAdBreakStart() bool {
	return breakStartTypeIDs[sd.TypeID]
}

// IsAdBreakEnd reports whether this segmentation_descriptor independently
// signals the end of an ad break.
func (sd *SegmentationDescriptor) IsAdBreakEnd() bool {
	return breakEndTypeIDs[sd.TypeID]
}
