package rtspsession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HungMingWu/EasyDarwin-sub002/internal/reflector"
)

func TestSession_NextChannelPair_SequentialAllocation(t *testing.T) {
	s := NewSession("id", "stream", RoleSubscriber, time.Minute)

	for i, want := range [][2]int{{0, 1}, {2, 3}, {4, 5}} {
		rtp, rtcp := s.NextChannelPair()
		require.Equal(t, want[0], rtp, "pair %d", i)
		require.Equal(t, want[1], rtcp, "pair %d", i)
	}
}

func TestSession_PlayPauseDrivesSubscriberPlayingGate(t *testing.T) {
	s := NewSession("id", "stream", RoleSubscriber, time.Minute)
	s.Subscriber = reflector.NewSubscriberOutput("id", 1, nil, time.Second, 0)

	require.NoError(t, s.Play(context.Background()))
	require.True(t, s.Subscriber.IsPlaying())

	require.NoError(t, s.Pause(context.Background()))
	require.False(t, s.Subscriber.IsPlaying())
}

func TestSession_RecordRejectedAfterTearDown(t *testing.T) {
	s := NewSession("id", "stream", RolePublisher, time.Minute)
	require.NoError(t, s.TearDown(context.Background()))
	require.Error(t, s.Record(context.Background()), "no transition leaves torn_down")
}

func TestSession_PauseRejectedFromInit(t *testing.T) {
	s := NewSession("id", "stream", RoleSubscriber, time.Minute)
	require.Error(t, s.Pause(context.Background()), "pause is only valid from playing")
}

func TestSession_Expired(t *testing.T) {
	s := NewSession("id", "stream", RoleSubscriber, time.Second)
	require.False(t, s.Expired(time.Now()))
	require.True(t, s.Expired(time.Now().Add(2*time.Second)))
}
