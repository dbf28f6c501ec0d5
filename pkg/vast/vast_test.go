package vast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleVAST = `<?xml version="1.0" encoding="UTF-8"?>
<VAST version="4.2">
  <Ad id="ad-123">
    <InLine>
      <AdSystem>Example DSP</AdSystem>
      <AdTitle>Sample Ad</AdTitle>
      <Impression><![CDATA[https://track.example.com/imp]]></Impression>
      <Creatives>
        <Creative id="cr-1">
          <Linear>
            <Duration>00:00:30.000</Duration>
            <MediaFiles>
              <MediaFile delivery="progressive" type="video/mp4" width="1280" height="720" bitrate="2000"><![CDATA[https://ads.example.com/2000k.mp4]]></MediaFile>
              <MediaFile delivery="progressive" type="video/mp4" width="640" height="360" bitrate="800"><![CDATA[https://ads.example.com/800k.mp4]]></MediaFile>
            </MediaFiles>
            <TrackingEvents>
              <Tracking event="start"><![CDATA[https://track.example.com/start]]></Tracking>
              <Tracking event="complete"><![CDATA[https://track.example.com/complete]]></Tracking>
            </TrackingEvents>
            <VideoClicks>
              <ClickThrough><![CDATA[https://advertiser.example.com]]></ClickThrough>
            </VideoClicks>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

func TestDecodeParsesInlineAd(t *testing.T) {
	v, err := Decode([]byte(sampleVAST))
	require.NoError(t, err)
	require.Len(t, v.Ads, 1)
	require.NotNil(t, v.Ads[0].InLine)
	require.Equal(t, "Sample Ad", v.Ads[0].InLine.AdTitle)
	require.Len(t, v.Ads[0].InLine.Creatives, 1)
	require.Len(t, v.Ads[0].InLine.Creatives[0].Linear.MediaFiles, 2)
}

func TestToPodFlattensMediaFilesAndTracking(t *testing.T) {
	v, err := Decode([]byte(sampleVAST))
	require.NoError(t, err)

	pod, err := v.ToPod("pod-xyz")
	require.NoError(t, err)
	require.Equal(t, "pod-xyz", pod.PodID)
	require.InDelta(t, 30, pod.DurationSec, 1e-9)
	require.Len(t, pod.Items, 2)

	item, ok := pod.ItemForBitrate(2100000)
	require.True(t, ok)
	require.Equal(t, 2000000, item.BitrateBps)
	require.Equal(t, "https://ads.example.com/2000k.mp4", item.PlaylistURL)

	require.NotNil(t, pod.Tracking)
	require.Equal(t, []string{"https://track.example.com/imp"}, pod.Tracking.Impressions)
	require.Equal(t, []string{"https://track.example.com/start"}, pod.Tracking.Quartiles.Start)
	require.Equal(t, []string{"https://track.example.com/complete"}, pod.Tracking.Quartiles.Complete)
	require.Equal(t, []string{"https://advertiser.example.com"}, pod.Tracking.Clicks)
}

func TestParseDurationHandlesHoursMinutesSeconds(t *testing.T) {
	d, err := ParseDuration("00:00:30.500")
	require.NoError(t, err)
	require.InDelta(t, 30.5, d, 1e-9)

	d, err = ParseDuration("01:02:03")
	require.NoError(t, err)
	require.InDelta(t, 3723, d, 1e-9)
}

func TestParseDurationRejectsMalformed(t *testing.T) {
	_, err := ParseDuration("not-a-duration")
	require.Error(t, err)
}

func TestToPodFailsWithNoInlineAd(t *testing.T) {
	v := &VAST{Ads: []Ad{{ID: "wrapper-only"}}}
	_, err := v.ToPod("pod")
	require.Error(t, err)
}
