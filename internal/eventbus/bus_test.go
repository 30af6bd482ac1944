package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	bus := New(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr
}

func TestPublishProgress_FansOutToVideoAndAllChannels(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, ChannelName(ChannelProgress, "vid-1"), ChannelName(ChannelProgress, "all"))
	defer sub.Close()

	// Allow the subscription to register before publishing.
	time.Sleep(50 * time.Millisecond)

	err := bus.PublishProgress(ctx, ProgressEvent{
		VideoID:         "vid-1",
		JobID:           "job-1",
		CurrentStep:     "transcode",
		ProgressPercent: 42,
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Channel():
			seen[msg.Channel] = true
			var evt ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
			require.Equal(t, EventProgress, evt.Type)
			require.Equal(t, 42, evt.ProgressPercent)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for progress message")
		}
	}
	require.True(t, seen[ChannelName(ChannelProgress, "vid-1")])
	require.True(t, seen[ChannelName(ChannelProgress, "all")])
}

func TestPublishJobFailed_TruncatesErrorTo200Bytes(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, ChannelName(ChannelJobsCompleted, "failed"))
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	longError := ""
	for i := 0; i < 500; i++ {
		longError += "x"
	}

	require.NoError(t, bus.PublishJobFailed(ctx, JobFailedEvent{
		JobID:   "job-1",
		VideoID: "vid-1",
		Error:   longError,
	}))

	select {
	case msg := <-sub.Channel():
		var evt JobFailedEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
		require.Len(t, evt.Error, 200)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job failed message")
	}
}

func TestBackoffTimeout_GrowsWithTripsAndSaturatesAtCap(t *testing.T) {
	base := 30 * time.Second

	withinJitter := func(got, want time.Duration) bool {
		lo := time.Duration(float64(want) * (1 - breakerJitterFrac))
		hi := time.Duration(float64(want) * (1 + breakerJitterFrac))
		return got >= lo && got <= hi
	}

	require.True(t, withinJitter(backoffTimeout(base, 0), base), "trips=0 is the baseline timeout")
	require.True(t, withinJitter(backoffTimeout(base, 1), 2*base), "each further trip must double the prior timeout")
	require.True(t, withinJitter(backoffTimeout(base, 2), 4*base))

	capped := backoffTimeout(base, 10)
	require.LessOrEqual(t, capped, time.Duration(float64(breakerMaxTimeout)*(1+breakerJitterFrac)), "timeout must never exceed the cap (plus jitter)")
}

func TestJitter_StaysWithinConfiguredFraction(t *testing.T) {
	d := 100 * time.Second
	for i := 0; i < 50; i++ {
		got := jitter(d, breakerJitterFrac)
		require.GreaterOrEqual(t, got, time.Duration(float64(d)*0.8))
		require.LessOrEqual(t, got, time.Duration(float64(d)*1.2))
	}
}

func TestProgressSubscriber_FansOutToMultipleListeners(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := NewProgressSubscriber(ctx, bus)
	defer ps.Close()

	chA, stopA := ps.Listen()
	defer stopA()
	chB, stopB := ps.Listen()
	defer stopB()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.PublishProgress(ctx, ProgressEvent{VideoID: "vid-2", ProgressPercent: 7}))

	for _, ch := range []<-chan ProgressEvent{chA, chB} {
		select {
		case evt := <-ch:
			require.Equal(t, 7, evt.ProgressPercent)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for fanned-out progress event")
		}
	}
}
