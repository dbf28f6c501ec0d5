package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecideReturnsPodOnSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(Pod{
			PodID:       "pod1",
			DurationSec: 30,
			Items:       []Item{{AdID: "ad1", BitrateBps: 2000000, PlaylistURL: "https://ads/ad1.m3u8"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	slate := Slate("slate1", 30, "https://slate.m3u8")
	pod := c.Decide(context.Background(), nil, Request{ChannelID: "ch1", DurationSec: 30}, slate)

	require.Equal(t, "pod1", pod.PodID)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDecideFallsBackToSlateOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	slate := Slate("slate1", 30, "https://slate.m3u8")
	pod := c.Decide(context.Background(), nil, Request{ChannelID: "ch1", DurationSec: 30}, slate)

	require.True(t, pod.IsSlate())
}

func TestDecideFallsBackToSlateOnEmptyPod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Pod{PodID: "pod1", DurationSec: 30})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	slate := Slate("slate1", 30, "https://slate.m3u8")
	pod := c.Decide(context.Background(), nil, Request{ChannelID: "ch1", DurationSec: 30}, slate)

	require.True(t, pod.IsSlate())
}

func TestDecideFallsBackToSlateOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(Pod{PodID: "pod1", DurationSec: 30, Items: []Item{{AdID: "a"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.timeout = 5 * time.Millisecond
	slate := Slate("slate1", 30, "https://slate.m3u8")
	pod := c.Decide(context.Background(), nil, Request{ChannelID: "ch1", DurationSec: 30}, slate)

	require.True(t, pod.IsSlate())
}

func TestDecideCachesWithinWindow(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(Pod{PodID: "pod1", DurationSec: 30, Items: []Item{{AdID: "a"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	slate := Slate("slate1", 30, "https://slate.m3u8")
	req := Request{ChannelID: "ch1", DurationSec: 30, Viewer: Viewer{Geo: "US", Bucket: "b1"}}

	first := c.Decide(context.Background(), nil, req, slate)
	second := c.Decide(context.Background(), nil, req, slate)

	require.Equal(t, first.PodID, second.PodID)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDecideCoalescesConcurrentCallsWithSameFingerprint(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release // hold every request open until every goroutine has issued its call
		_ = json.NewEncoder(w).Encode(Pod{PodID: "pod1", DurationSec: 30, Items: []Item{{AdID: "a"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	slate := Slate("slate1", 30, "https://slate.m3u8")
	req := Request{ChannelID: "ch1", DurationSec: 30, Viewer: Viewer{Geo: "US", Bucket: "b1"}}

	const k = 8
	var wg sync.WaitGroup
	pods := make([]Pod, k)
	wg.Add(k)
	for i := 0; i < k; i++ {
		go func(i int) {
			defer wg.Done()
			pods[i] = c.Decide(context.Background(), nil, req, slate)
		}(i)
	}

	// Give every goroutine a chance to reach the upstream call (or join the
	// in-flight singleflight call) before letting the server respond.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, p := range pods {
		require.Equal(t, "pod1", p.PodID)
	}
}

func TestItemForBitratePicksClosest(t *testing.T) {
	pod := Pod{Items: []Item{
		{AdID: "low", BitrateBps: 500000},
		{AdID: "mid", BitrateBps: 2000000},
		{AdID: "high", BitrateBps: 5000000},
	}}
	item, ok := pod.ItemForBitrate(2100000)
	require.True(t, ok)
	require.Equal(t, "mid", item.AdID)
}
