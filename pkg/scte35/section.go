// Package scte35 decodes and synthesises SCTE-35 splice_info_section
// messages, both as they arrive on the wire (base64 via Decode, or the
// 0x-prefixed hex of HLS SCTE35-OUT/IN attributes via DecodeHex, spec.md
// §3.2) and as CSI insertion payloads the rewriter emits itself (spec.md
// §4.4).
package scte35

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bamiaux/iobit"
)

// SpliceCommandType is the splice_command_type field (Table 5, SCTE-35).
type SpliceCommandType byte

const (
	CommandSpliceNull           SpliceCommandType = 0x00
	CommandSpliceSchedule       SpliceCommandType = 0x04
	CommandSpliceInsert         SpliceCommandType = 0x05
	CommandTimeSignal           SpliceCommandType = 0x06
	CommandBandwidthReservation SpliceCommandType = 0x07
	CommandPrivate              SpliceCommandType = 0xFF
)

// TableID is the only valid table_id for a splice_info_section.
const TableID = 0xFC

var (
	// ErrNotSCTE35 is returned when no 0xFC table_id can be found near the
	// start of the decoded bytes.
	ErrNotSCTE35 = errors.New("scte35: table_id 0xfc not found")
	// ErrTruncated is returned when the section is shorter than its declared
	// fields require.
	ErrTruncated = errors.New("scte35: truncated splice_info_section")
)

// SpliceTime is splice_time() (6.10).
type SpliceTime struct {
	TimeSpecified bool
	PTS           uint64 // 33-bit, 90kHz
}

// BreakDuration is break_duration() (6.9.3).
type BreakDuration struct {
	AutoReturn bool
	Duration   uint64 // 33-bit ticks
}

// SpliceInsert is the splice_insert() command (6.9).
type SpliceInsert struct {
	EventID         uint32
	CancelIndicator bool
	OutOfNetwork    bool
	ProgramSplice   bool
	SpliceImmediate bool
	SpliceTime      *SpliceTime
	BreakDuration   *BreakDuration
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
}

// TimeSignal is the time_signal() command (6.7).
type TimeSignal struct {
	SpliceTime SpliceTime
}

// SegmentationDescriptor is the segmentation_descriptor() splice_descriptor
// (10.3.3), the only descriptor type this package interprets.
type SegmentationDescriptor struct {
	EventID                   uint32
	CancelIndicator           bool
	ProgramSegmentation       bool
	DeliveryNotRestricted     bool
	WebDeliveryAllowed        bool
	NoRegionalBlackout        bool
	ArchiveAllowed            bool
	DeviceRestrictions        uint8
	Duration                  *uint64 // 40-bit ticks, present iff segmentation_duration_flag
	UPIDType                  byte
	UPIDTypeName              string
	UPIDRaw                   []byte
	UPIDText                  string // decoded iff UPIDType has a textual encoding
	TypeID                    byte
	TypeName                  string
	SegmentNum                uint8
	SegmentsExpected          uint8
	SubSegmentNum             *uint8
	SubSegmentsExpected       *uint8
}

// Descriptor is one entry of the descriptor loop. Segmentation is non-nil
// iff Tag is SegmentationDescriptorTag and Identifier is "CUEI"; otherwise
// Raw carries the opaque splice_descriptor() payload for lossless re-emission.
type Descriptor struct {
	Tag          byte
	Identifier   string
	Segmentation *SegmentationDescriptor
	Raw          []byte
}

// SegmentationDescriptorTag is the splice_descriptor_tag for
// segmentation_descriptor() (Table 17).
const SegmentationDescriptorTag = 0x02

// SpliceInfoSection is a decoded splice_info_section() (6.1).
type SpliceInfoSection struct {
	TableID         byte
	ProtocolVersion uint8
	Encrypted       bool
	EncryptionAlgo  uint8
	PTSAdjustment   uint64
	CWIndex         uint8
	Tier            uint16
	CommandType     SpliceCommandType
	SpliceInsert    *SpliceInsert
	TimeSignal      *TimeSignal
	Descriptors     []Descriptor
	CRC32           uint32
	CRCValid        bool
}

// Decode parses a base64-encoded splice_info_section (spec.md §3.2, §4.4);
// the 0x-prefixed hex form of HLS SCTE35-OUT/SCTE35-IN attributes goes
// through DecodeHex, which converts it and calls Decode. It tries
// standard and unpadded base64, and tolerates a table_id offset by up to 16
// bytes (some encoders prefix stray bytes).
//
// A CRC mismatch does not fail decoding; CRCValid reports it so the caller
// can decide whether to trust the signal (spec.md §4.4, §7).
func Decode(b64 string) (*SpliceInfoSection, error) {
	raw, err := decodeBase64(b64)
	if err != nil {
		return nil, fmt.Errorf("scte35: %w", err)
	}

	offset := -1
	for i := 0; i < len(raw) && i < 16; i++ {
		if raw[i] == TableID {
			offset = i
			break
		}
	}
	if offset < 0 {
		return nil, ErrNotSCTE35
	}
	b := raw[offset:]
	if len(b) < 14 { // smallest possible header through splice_command_type
		return nil, ErrTruncated
	}

	s := &SpliceInfoSection{}
	r := iobit.NewReader(b)

	s.TableID = byte(r.Uint32(8))
	r.Skip(1) // section_syntax_indicator
	r.Skip(1) // private_indicator
	r.Skip(2) // reserved
	r.Skip(12) // section_length, informative only
	s.ProtocolVersion = uint8(r.Uint32(8))
	s.Encrypted = r.Bit()
	s.EncryptionAlgo = uint8(r.Uint32(6))
	s.PTSAdjustment = r.Uint64(33)
	s.CWIndex = uint8(r.Uint32(8))
	s.Tier = uint16(r.Uint32(12))

	spliceCommandLength := int(r.Uint32(12))
	s.CommandType = SpliceCommandType(r.Uint32(8))

	if s.Encrypted {
		// The command and descriptor bodies are opaque ciphertext; stop here
		// rather than try to parse encrypted bytes as clear SCTE-35.
		if err := readerError(r); err != nil {
			return nil, fmt.Errorf("scte35: %w", err)
		}
		s.crcFrom(b)
		return s, nil
	}

	var cmdBytes []byte
	if spliceCommandLength == 0xFFF {
		cmdBytes = r.Peek().LeftBytes()
	} else {
		cmdBytes = r.Bytes(spliceCommandLength)
	}
	if err := decodeCommand(s, cmdBytes); err != nil {
		return nil, fmt.Errorf("scte35: %w", err)
	}
	if spliceCommandLength == 0xFFF {
		r.Skip(uint(commandLength(s) * 8))
	}

	descriptorLoopLength := int(r.Uint32(16))
	descBytes := r.Bytes(descriptorLoopLength)
	s.Descriptors, err = decodeDescriptors(descBytes)
	if err != nil {
		return nil, fmt.Errorf("scte35: %w", err)
	}

	if err := readerError(r); err != nil {
		return nil, fmt.Errorf("scte35: %w", err)
	}

	s.crcFrom(b)
	s.applyPTSAdjustment()
	return s, nil
}

func (s *SpliceInfoSection) crcFrom(b []byte) {
	if len(b) < 4 {
		return
	}
	stored := uint32(b[len(b)-4])<<24 | uint32(b[len(b)-3])<<16 | uint32(b[len(b)-2])<<8 | uint32(b[len(b)-1])
	s.CRC32 = stored
	s.CRCValid = crc32MPEG2(b[:len(b)-4]) == stored
}

// applyPTSAdjustment folds pts_adjustment into every splice_time() carried
// by the command, mod 2^33 (spec.md §4.4).
func (s *SpliceInfoSection) applyPTSAdjustment() {
	if s.PTSAdjustment == 0 {
		return
	}
	const ptsModulo = uint64(1) << 33
	adjust := func(st *SpliceTime) {
		if st == nil || !st.TimeSpecified {
			return
		}
		st.PTS = (st.PTS + s.PTSAdjustment) % ptsModulo
	}
	if s.SpliceInsert != nil {
		adjust(s.SpliceInsert.SpliceTime)
	}
	if s.TimeSignal != nil {
		adjust(&s.TimeSignal.SpliceTime)
	}
}

func decodeCommand(s *SpliceInfoSection, b []byte) error {
	switch s.CommandType {
	case CommandSpliceNull, CommandBandwidthReservation:
		return nil
	case CommandSpliceInsert:
		si, err := decodeSpliceInsert(b)
		if err != nil {
			return err
		}
		s.SpliceInsert = si
		return nil
	case CommandTimeSignal:
		ts, err := decodeTimeSignal(b)
		if err != nil {
			return err
		}
		s.TimeSignal = ts
		return nil
	default:
		// splice_schedule, private_command and anything unrecognised: not
		// relevant to ad-break detection, leave uninterpreted.
		return nil
	}
}

func commandLength(s *SpliceInfoSection) int {
	switch {
	case s.SpliceInsert != nil:
		return spliceInsertLength(s.SpliceInsert)
	case s.TimeSignal != nil:
		return 5
	default:
		return 0
	}
}

func decodeSpliceTime(r *iobit.Reader) *SpliceTime {
	st := &SpliceTime{}
	st.TimeSpecified = r.Bit()
	if st.TimeSpecified {
		r.Skip(6)
		st.PTS = r.Uint64(33)
	} else {
		r.Skip(7)
	}
	return st
}

func decodeSpliceInsert(b []byte) (*SpliceInsert, error) {
	r := iobit.NewReader(b)
	si := &SpliceInsert{}
	si.EventID = r.Uint32(32)
	si.CancelIndicator = r.Bit()
	r.Skip(7)
	if !si.CancelIndicator {
		si.OutOfNetwork = r.Bit()
		si.ProgramSplice = r.Bit()
		durationFlag := r.Bit()
		si.SpliceImmediate = r.Bit()
		r.Skip(4)
		if si.ProgramSplice && !si.SpliceImmediate {
			si.SpliceTime = decodeSpliceTime(&r)
		}
		if !si.ProgramSplice {
			// component splice mode: not used by CSI/SSAI ad breaks, skip
			// each component's fixed-size entry.
			n := int(r.Uint32(8))
			for i := 0; i < n; i++ {
				r.Skip(8) // component_tag
				if !si.SpliceImmediate {
					if r.Bit() {
						r.Skip(6 + 33)
					} else {
						r.Skip(7)
					}
				}
			}
		}
		if durationFlag {
			bd := &BreakDuration{}
			bd.AutoReturn = r.Bit()
			r.Skip(6)
			bd.Duration = r.Uint64(33)
			si.BreakDuration = bd
		}
		si.UniqueProgramID = uint16(r.Uint32(16))
		si.AvailNum = uint8(r.Uint32(8))
		si.AvailsExpected = uint8(r.Uint32(8))
	}
	if err := readerError(r); err != nil {
		return nil, fmt.Errorf("splice_insert: %w", err)
	}
	return si, nil
}

func spliceInsertLength(si *SpliceInsert) int {
	bits := 32 + 1 + 7
	if !si.CancelIndicator {
		bits += 1 + 1 + 1 + 1 + 4
		if si.ProgramSplice && !si.SpliceImmediate {
			bits += 1
			if si.SpliceTime != nil && si.SpliceTime.TimeSpecified {
				bits += 6 + 33
			} else {
				bits += 7
			}
		}
		if si.BreakDuration != nil {
			bits += 1 + 6 + 33
		}
		bits += 16 + 8 + 8
	}
	return bits / 8
}

func decodeTimeSignal(b []byte) (*TimeSignal, error) {
	r := iobit.NewReader(b)
	ts := &TimeSignal{SpliceTime: *decodeSpliceTime(&r)}
	if err := readerError(r); err != nil {
		return nil, fmt.Errorf("time_signal: %w", err)
	}
	return ts, nil
}

func decodeDescriptors(b []byte) ([]Descriptor, error) {
	var out []Descriptor
	r := iobit.NewReader(b)
	for r.LeftBits() >= 16 {
		tag := byte(r.Uint32(8))
		length := int(r.Uint32(8))
		body := r.Bytes(length)
		if err := readerError(r); err != nil {
			return out, fmt.Errorf("splice_descriptor: %w", err)
		}
		d := Descriptor{Tag: tag}
		if len(body) >= 4 {
			d.Identifier = string(body[:4])
		}
		if tag == SegmentationDescriptorTag && d.Identifier == "CUEI" {
			sd, err := decodeSegmentationDescriptor(body[4:])
			if err == nil {
				d.Segmentation = sd
			} else {
				d.Raw = body
			}
		} else {
			d.Raw = body
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeSegmentationDescriptor(b []byte) (*SegmentationDescriptor, error) {
	r := iobit.NewReader(b)
	sd := &SegmentationDescriptor{}
	sd.EventID = r.Uint32(32)
	sd.CancelIndicator = r.Bit()
	r.Skip(7)
	if !sd.CancelIndicator {
		sd.ProgramSegmentation = r.Bit()
		durationFlag := r.Bit()
		sd.DeliveryNotRestricted = r.Bit()
		if !sd.DeliveryNotRestricted {
			sd.WebDeliveryAllowed = r.Bit()
			sd.NoRegionalBlackout = r.Bit()
			sd.ArchiveAllowed = r.Bit()
			sd.DeviceRestrictions = uint8(r.Uint32(2))
		} else {
			r.Skip(5)
		}
		if !sd.ProgramSegmentation {
			n := int(r.Uint32(8))
			for i := 0; i < n; i++ {
				r.Skip(8)
				r.Skip(7)
				r.Skip(33)
			}
		}
		if durationFlag {
			d := r.Uint64(40)
			sd.Duration = &d
		}
		sd.UPIDType = byte(r.Uint32(8))
		upidLen := int(r.Uint32(8))
		sd.UPIDRaw = r.Bytes(upidLen)
		sd.UPIDTypeName, sd.UPIDText = decodeUPID(sd.UPIDType, sd.UPIDRaw)
		sd.TypeID = byte(r.Uint32(8))
		sd.TypeName = SegmentationTypeName(sd.TypeID)
		sd.SegmentNum = uint8(r.Uint32(8))
		sd.SegmentsExpected = uint8(r.Uint32(8))
		if sd.TypeID == 0x34 || sd.TypeID == 0x36 { // Provider/Distributor PO Start
			if r.LeftBits() >= 16 {
				n := uint8(r.Uint32(8))
				e := uint8(r.Uint32(8))
				sd.SubSegmentNum = &n
				sd.SubSegmentsExpected = &e
			}
		}
	}
	if err := readerError(r); err != nil {
		return nil, err
	}
	return sd, nil
}

func readerError(r iobit.Reader) error {
	if err := r.Error(); err != nil {
		return err
	}
	return nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
