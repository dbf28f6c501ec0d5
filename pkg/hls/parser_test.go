package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS="avc1.64001f,mp4a.40.2"
v_800k/index.m3u8

#EXT-X-STREAM-INF:BANDWIDTH=150000,CODECS="mp4a.40.2"
audio_only/index.m3u8

#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
v_2500k/index.m3u8
`

func TestParseMasterFiltersAudioAndLowBitrate(t *testing.T) {
	variants := ParseMaster(sampleMaster)
	require.Len(t, variants, 3)

	bitrates := ExtractBitrates(variants)
	require.Equal(t, []int{800, 2500}, bitrates)
}

func TestParseMasterStableAcrossBlankLines(t *testing.T) {
	withBlank := ParseMaster(sampleMaster)
	withoutBlank := ParseMaster(strings.ReplaceAll(sampleMaster, "\n\n", "\n"))
	require.Equal(t, ExtractBitrates(withBlank), ExtractBitrates(withoutBlank))
}

func TestParseMasterEmptyWhenNoVideo(t *testing.T) {
	audioOnly := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=150000,CODECS=\"mp4a.40.2\"\naudio/index.m3u8\n"
	variants := ParseMaster(audioOnly)
	require.Empty(t, variants)
	require.Equal(t, []int{}, ExtractBitrates(variants))
}

const sampleMedia = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:00.000Z
#EXTINF:4.000,
seg100.m4s
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:04.000Z
#EXTINF:4.000,
seg101.m4s
#EXT-X-PROGRAM-DATE-TIME:2025-10-31T12:00:08.000Z
#EXTINF:4.000,
seg102.m4s
#EXTINF:4.000,
seg103.m4s
`

func TestParseMediaRoundTrip(t *testing.T) {
	pl := ParseMedia(sampleMedia)
	require.True(t, pl.TrailingNewline)
	out := Serialize(pl)
	require.Equal(t, sampleMedia, out)
}

func TestParseMediaNoTrailingNewlinePreserved(t *testing.T) {
	text := strings.TrimSuffix(sampleMedia, "\n")
	pl := ParseMedia(text)
	require.False(t, pl.TrailingNewline)
	require.Equal(t, text, Serialize(pl))
}

func TestExtractPDTsAndTotalDuration(t *testing.T) {
	pl := ParseMedia(sampleMedia)
	pdts := ExtractPDTs(pl)
	require.Equal(t, []string{
		"2025-10-31T12:00:00.000Z",
		"2025-10-31T12:00:04.000Z",
		"2025-10-31T12:00:08.000Z",
	}, pdts)
	require.InDelta(t, 16.0, TotalDuration(pl), 1e-9)
}

func TestAverageSegmentDurationFallback(t *testing.T) {
	pl := ParseMedia("#EXTM3U\n#EXT-X-VERSION:6\n")
	require.Equal(t, defaultAverageSegmentDurationS, AverageSegmentDuration(pl, 10))
}

func TestAverageSegmentDurationSampleCap(t *testing.T) {
	pl := ParseMedia(sampleMedia)
	avg := AverageSegmentDuration(pl, 10)
	require.InDelta(t, 4.0, avg, 1e-9)
}

func TestDaterangeAttributeParsing(t *testing.T) {
	line := `#EXT-X-DATERANGE:ID="break-1",CLASS="com.apple.hls.interstitial",START-DATE="2025-10-31T12:00:08.000Z",DURATION=8.000,SCTE35-OUT=0xfc302500000,X-CUSTOM="with \"escaped\" quotes"`
	pl := ParseMedia(line)
	l := pl.Lines[0]
	require.Equal(t, KindDateRange, l.Kind)
	require.Equal(t, "break-1", l.Attrs["ID"].Str)
	require.Equal(t, AttrHex, l.Attrs["SCTE35-OUT"].Kind)
	require.Equal(t, 8.000, l.Attrs["DURATION"].Num)
	require.Equal(t, `with "escaped" quotes`, l.Attrs["X-CUSTOM"].Str)
}
