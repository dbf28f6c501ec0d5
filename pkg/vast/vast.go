// Package vast decodes IAB VAST 4.2 ad responses
// (https://iabtechlab.com/wp-content/uploads/2019/06/VAST_4.2_final_june26.pdf)
// and adapts them into a decision.Pod for channels configured with
// vast.enabled (spec.md §3.8, §4.10).
package vast

import "encoding/xml"

// VAST is the root <VAST> tag.
type VAST struct {
	Version string        `xml:"version,attr"`
	Ads     []Ad          `xml:"Ad"`
	Errors  []CDATAString `xml:"Error"`
}

// Ad represents an <Ad> child tag. Each Ad contains a single InLine element
// or Wrapper element, but never both; this module only follows InLine since
// the ad-break inserter resolves wrapper chains upstream of the proxy.
type Ad struct {
	InLine   *InLine `xml:"InLine"`
	ID       string  `xml:"id,attr"`
	Sequence int     `xml:"sequence,attr"`
}

// CDATAString is written as character data wrapped in <![CDATA[ ... ]]>.
type CDATAString struct {
	CDATA string `xml:",cdata"`
}

// InLine is a VAST <InLine> ad element containing the actual ad definition.
type InLine struct {
	AdSystem    AdSystem      `xml:"AdSystem"`
	AdTitle     string        `xml:"AdTitle"`
	Impressions []Impression  `xml:"Impression"`
	Errors      []CDATAString `xml:"Error"`
	Creatives   []Creative    `xml:"Creatives>Creative"`
}

// AdSystem contains information about the system that returned the ad.
type AdSystem struct {
	Name    string `xml:",chardata"`
	Version string `xml:"version,attr"`
}

// Impression is a URI the player should request on first frame.
type Impression struct {
	ID  string `xml:"id,attr"`
	URI string `xml:",cdata"`
}

// Creative is a single ad asset within an Ad.
type Creative struct {
	ID     string  `xml:"id,attr"`
	Linear *Linear `xml:"Linear"`
}

// Linear is a pre-roll style video creative.
type Linear struct {
	Duration       Duration     `xml:"Duration"`
	MediaFiles     []MediaFile  `xml:"MediaFiles>MediaFile"`
	TrackingEvents []Tracking   `xml:"TrackingEvents>Tracking"`
	VideoClicks    *VideoClicks `xml:"VideoClicks"`
}

// VideoClicks contains the click-through and click-tracking URIs.
type VideoClicks struct {
	ClickThroughs  []VideoClick `xml:"ClickThrough"`
	ClickTrackings []VideoClick `xml:"ClickTracking"`
}

// VideoClick is a single click URI.
type VideoClick struct {
	ID  string `xml:"id,attr"`
	URI string `xml:",cdata"`
}

// MediaFile references a creative asset at a given bitrate.
type MediaFile struct {
	URI      string `xml:",cdata"`
	Delivery string `xml:"delivery,attr"`
	Type     string `xml:"type,attr"`
	Width    int    `xml:"width,attr"`
	Height   int    `xml:"height,attr"`
	Bitrate  int    `xml:"bitrate,attr"`
}

// Tracking is a single event-tracking URL (event in {start, firstQuartile,
// midpoint, thirdQuartile, complete, ...}).
type Tracking struct {
	Event string `xml:"event,attr"`
	URI   string `xml:",cdata"`
}

// Duration is a VAST HH:MM:SS.mmm duration value. Parsing is handled by
// ParseDuration rather than a custom UnmarshalXML so malformed durations
// (a field some ad servers get wrong) don't abort the whole document.
type Duration struct {
	Raw string `xml:",chardata"`
}

// Decode parses a VAST XML document.
func Decode(data []byte) (*VAST, error) {
	var v VAST
	if err := xml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
