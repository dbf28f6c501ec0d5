package vast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dashif-ads/adinserter/pkg/decision"
)

// ToPod flattens the first InLine Ad's Linear creatives into a
// decision.Pod, one Item per MediaFile, so the rewriter's bitrate-ladder
// matching (decision.Pod.ItemForBitrate) works the same way whether the
// pod came from the decision service or directly from VAST.
func (v *VAST) ToPod(podID string) (decision.Pod, error) {
	for _, ad := range v.Ads {
		if ad.InLine == nil {
			continue
		}
		return inlineToPod(podID, ad)
	}
	return decision.Pod{}, fmt.Errorf("vast: no InLine ad found")
}

func inlineToPod(podID string, ad Ad) (decision.Pod, error) {
	in := ad.InLine

	var items []decision.Item
	var durationSec float64
	var impressions []string
	var quartiles decision.Quartiles
	var clicks []string
	var errs []string

	for _, imp := range in.Impressions {
		impressions = append(impressions, strings.TrimSpace(imp.URI))
	}
	for _, e := range in.Errors {
		errs = append(errs, strings.TrimSpace(e.CDATA))
	}

	for _, creative := range in.Creatives {
		if creative.Linear == nil {
			continue
		}
		lin := creative.Linear
		if d, err := ParseDuration(lin.Duration.Raw); err == nil && d > durationSec {
			durationSec = d
		}
		linDurationSec, _ := ParseDuration(lin.Duration.Raw)
		for _, mf := range lin.MediaFiles {
			items = append(items, decision.Item{
				AdID:        ad.ID,
				BitrateBps:  mf.Bitrate * 1000, // VAST bitrate is in Kbps
				PlaylistURL: strings.TrimSpace(mf.URI),
				DurationSec: linDurationSec,
			})
		}
		for _, te := range lin.TrackingEvents {
			uri := strings.TrimSpace(te.URI)
			switch te.Event {
			case "start":
				quartiles.Start = append(quartiles.Start, uri)
			case "firstQuartile":
				quartiles.FirstQuartile = append(quartiles.FirstQuartile, uri)
			case "midpoint":
				quartiles.Midpoint = append(quartiles.Midpoint, uri)
			case "thirdQuartile":
				quartiles.ThirdQuartile = append(quartiles.ThirdQuartile, uri)
			case "complete":
				quartiles.Complete = append(quartiles.Complete, uri)
			}
		}
		if lin.VideoClicks != nil {
			for _, c := range lin.VideoClicks.ClickThroughs {
				clicks = append(clicks, strings.TrimSpace(c.URI))
			}
			for _, c := range lin.VideoClicks.ClickTrackings {
				clicks = append(clicks, strings.TrimSpace(c.URI))
			}
		}
	}
	if len(items) == 0 {
		return decision.Pod{}, fmt.Errorf("vast: ad %q has no MediaFile items", ad.ID)
	}

	return decision.Pod{
		PodID:       podID,
		DurationSec: durationSec,
		Items:       items,
		Tracking: &decision.Tracking{
			Impressions: impressions,
			Quartiles:   quartiles,
			Clicks:      clicks,
			Errors:      errs,
		},
	}, nil
}

// ParseDuration parses a VAST HH:MM:SS.mmm duration string into seconds.
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, fmt.Errorf("vast: malformed duration %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("vast: malformed duration %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("vast: malformed duration %q: %w", s, err)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("vast: malformed duration %q: %w", s, err)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}
