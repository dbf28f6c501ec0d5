package hls

import (
	"sort"
	"strconv"
	"strings"
)

const defaultAverageSegmentDurationS = 2.0

// ParseMaster tokenises a master playlist and returns its variants (spec.md
// §4.2). A variant is video iff it carries RESOLUTION or its CODECS mentions
// avc/hvc/vp. A master with zero video variants returns an empty, non-nil
// slice.
func ParseMaster(text string) []Variant {
	variants := make([]Variant, 0)
	lines := splitLines(text)

	var pending *Variant
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs, _ := scanAttrs(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			v := Variant{}
			if bw, ok := attrs["BANDWIDTH"]; ok && bw.Kind == AttrNumber {
				v.BandwidthBps = int(bw.Num)
			}
			if res, ok := attrs["RESOLUTION"]; ok {
				v.Resolution = res.String()
				v.IsVideo = true
			}
			if codecs, ok := attrs["CODECS"]; ok && codecs.Kind == AttrString {
				v.Codecs = codecs.Str
				if containsAny(strings.ToLower(codecs.Str), "avc", "hvc", "vp") {
					v.IsVideo = true
				}
			}
			pending = &v
		case strings.HasPrefix(line, "#"):
			// other tag, ignore
		default:
			if pending != nil {
				pending.URI = line
				variants = append(variants, *pending)
				pending = nil
			}
		}
	}
	for _, v := range variants {
		if v.IsVideo {
			return variants
		}
	}
	return make([]Variant, 0)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseMedia tokenises a live media playlist into an ordered line model
// (spec.md §4.2). \r\n is normalised to \n on input; ParseMedia records
// whether the input ended with a trailing newline so Serialize can restore it.
func ParseMedia(text string) *MediaPlaylist {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	trailingNewline := strings.HasSuffix(normalized, "\n")
	rawLines := strings.Split(strings.TrimSuffix(normalized, "\n"), "\n")

	pl := &MediaPlaylist{TrailingNewline: trailingNewline}
	for _, raw := range rawLines {
		pl.Lines = append(pl.Lines, parseLine(raw))
	}
	return pl
}

func parseLine(raw string) Line {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(trimmed, "#EXT-X-PROGRAM-DATE-TIME:"):
		return Line{Kind: KindProgramDateTime, Raw: raw, PDTRaw: strings.TrimPrefix(trimmed, "#EXT-X-PROGRAM-DATE-TIME:")}
	case strings.HasPrefix(trimmed, "#EXTINF:"):
		rest := strings.TrimPrefix(trimmed, "#EXTINF:")
		dur, title := splitExtinf(rest)
		return Line{Kind: KindExtinf, Raw: raw, Duration: dur, Title: title}
	case strings.HasPrefix(trimmed, "#EXT-X-DATERANGE:"):
		attrs, order := scanAttrs(strings.TrimPrefix(trimmed, "#EXT-X-DATERANGE:"))
		return Line{Kind: KindDateRange, Raw: raw, Attrs: attrs, AttrOrder: order}
	case trimmed == "#EXT-X-DISCONTINUITY":
		return Line{Kind: KindDiscontinuity, Raw: raw}
	case strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF:"):
		attrs, _ := scanAttrs(strings.TrimPrefix(trimmed, "#EXT-X-STREAM-INF:"))
		v := &Variant{}
		if bw, ok := attrs["BANDWIDTH"]; ok && bw.Kind == AttrNumber {
			v.BandwidthBps = int(bw.Num)
		}
		return Line{Kind: KindStreamInf, Raw: raw, Variant: v}
	case strings.HasPrefix(trimmed, "#"):
		return Line{Kind: KindHeaderTag, Raw: raw}
	case trimmed == "":
		return Line{Kind: KindHeaderTag, Raw: raw}
	default:
		return Line{Kind: KindURI, Raw: raw, URI: trimmed}
	}
}

func splitExtinf(rest string) (dur float64, title string) {
	parts := strings.SplitN(rest, ",", 2)
	dur, _ = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if len(parts) == 2 {
		title = parts[1]
	}
	return dur, title
}

func splitLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(normalized, "\n")
}

// Serialize renders the line model back to playlist text, restoring a
// trailing newline iff the input had one.
func Serialize(pl *MediaPlaylist) string {
	texts := make([]string, 0, len(pl.Lines))
	for _, l := range pl.Lines {
		texts = append(texts, renderLine(l))
	}
	out := strings.Join(texts, "\n")
	if pl.TrailingNewline {
		out += "\n"
	}
	return out
}

func renderLine(l Line) string {
	switch l.Kind {
	case KindDateRange:
		return "#EXT-X-DATERANGE:" + renderAttrs(l.Attrs, l.AttrOrder)
	case KindExtinf:
		return "#EXTINF:" + trimFloat3(l.Duration) + "," + l.Title
	case KindProgramDateTime:
		return "#EXT-X-PROGRAM-DATE-TIME:" + l.PDTRaw
	case KindDiscontinuity:
		return "#EXT-X-DISCONTINUITY"
	case KindURI:
		return l.URI
	default:
		return l.Raw
	}
}

func trimFloat3(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// AverageSegmentDuration averages the first sampleCap EXTINF durations,
// falling back to 2.0s if none are present (spec.md §4.2).
func AverageSegmentDuration(pl *MediaPlaylist, sampleCap int) float64 {
	if sampleCap <= 0 {
		sampleCap = 10
	}
	var sum float64
	var n int
	for _, l := range pl.Lines {
		if l.Kind != KindExtinf {
			continue
		}
		sum += l.Duration
		n++
		if n >= sampleCap {
			break
		}
	}
	if n == 0 {
		return defaultAverageSegmentDurationS
	}
	return sum / float64(n)
}

// ExtractBitrates returns the sorted, deduplicated kbps values of video
// variants at or above 200 kbps (spec.md §4.2).
func ExtractBitrates(variants []Variant) []int {
	seen := make(map[int]bool)
	out := make([]int, 0)
	for _, v := range variants {
		if !v.IsVideo {
			continue
		}
		kbps := v.BandwidthBps / 1000
		if kbps < 200 {
			continue
		}
		if !seen[kbps] {
			seen[kbps] = true
			out = append(out, kbps)
		}
	}
	sort.Ints(out)
	return out
}

// ExtractPDTs returns every EXT-X-PROGRAM-DATE-TIME string, in order.
func ExtractPDTs(pl *MediaPlaylist) []string {
	var out []string
	for _, l := range pl.Lines {
		if l.Kind == KindProgramDateTime {
			out = append(out, l.PDTRaw)
		}
	}
	return out
}

// TotalDuration sums every EXTINF duration in the playlist.
func TotalDuration(pl *MediaPlaylist) float64 {
	var sum float64
	for _, l := range pl.Lines {
		if l.Kind == KindExtinf {
			sum += l.Duration
		}
	}
	return sum
}
