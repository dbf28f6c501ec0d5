package scte35

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/Comcast/gots/v2"
	"github.com/Comcast/gots/v2/scte35"
)

// InsertParams is the input to EncodeSpliceInsert: the fields the rewriter
// controls when it has to synthesize a binary cue for an origin that only
// carried a text-form signal (spec.md §4.4, §4.11 CSI path).
type InsertParams struct {
	EventID         uint32
	PTS             uint64 // 90kHz, pre-pts_adjustment (PTSAdjustment left 0 on synthesized sections)
	Duration        uint64 // 90kHz ticks, 0 to omit break_duration()
	AutoReturn      bool
	OutOfNetwork    bool
	SpliceImmediate bool
	UniqueProgramID uint16
	AvailNum        uint8
	AvailsExpected  uint8
	Tier            uint16
}

// EncodeSpliceInsert builds a splice_insert() splice_info_section and
// returns its bytes, grounded on the teacher's CreateSpliceInsertPayload.
func EncodeSpliceInsert(p InsertParams) []byte {
	s := scte35.CreateSCTE35()
	s.SetTier(p.Tier)

	cmd := scte35.CreateSpliceInsertCommand()
	cmd.SetEventID(p.EventID)
	cmd.SetUniqueProgramId(p.UniqueProgramID)
	cmd.SetAvailNum(p.AvailNum)
	cmd.SetAvailsExpected(p.AvailsExpected)
	cmd.SetIsEventCanceled(false)
	cmd.SetIsOut(p.OutOfNetwork)
	cmd.SetSpliceImmediate(p.SpliceImmediate)
	if !p.SpliceImmediate {
		cmd.SetHasPTS(true)
		cmd.SetPTS(gots.PTS(p.PTS))
	}
	if p.Duration != 0 {
		cmd.SetHasDuration(true)
		cmd.SetDuration(gots.PTS(p.Duration))
		cmd.SetIsAutoReturn(p.AutoReturn)
	}
	s.SetCommandInfo(cmd)
	return s.UpdateData()
}

// EncodeSpliceInsertHex returns EncodeSpliceInsert as a "0x"-prefixed
// lowercase hex string, the wire form of SCTE35-OUT (spec.md §4.2).
func EncodeSpliceInsertHex(p InsertParams) string {
	return "0x" + hex.EncodeToString(EncodeSpliceInsert(p))
}

// EncodeSpliceInsertBase64 returns EncodeSpliceInsert base64-encoded, for
// manifests or APIs that carry SCTE-35 in its original MPEG-2 section form.
func EncodeSpliceInsertBase64(p InsertParams) string {
	return base64.StdEncoding.EncodeToString(EncodeSpliceInsert(p))
}

// DecodeHex decodes a "0x"-prefixed lowercase hex splice_info_section, the
// wire form carried in SCTE35-OUT/SCTE35-IN HLS attributes (spec.md §3.2),
// by converting it to the base64 form Decode already understands.
func DecodeHex(hexStr string) (*SpliceInfoSection, error) {
	hexStr = strings.TrimPrefix(strings.TrimPrefix(hexStr, "0x"), "0X")
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	return Decode(base64.StdEncoding.EncodeToString(raw))
}
