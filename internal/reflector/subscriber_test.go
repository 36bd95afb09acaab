package reflector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rtpPacketWithSeq(seq uint16) *Packet {
	data := make([]byte, 12)
	data[0] = 0x80
	data[2] = byte(seq >> 8)
	data[3] = byte(seq)
	return &Packet{Data: data, Arrival: time.Now()}
}

func TestSubscriberOutput_NotPlayingDropsSilently(t *testing.T) {
	w := &recordingWriter{blockAfter: 10}
	sub := NewSubscriberOutput("sess", 1, w, time.Second, 0)

	result := sub.WritePacket(rtpPacketWithSeq(1), 0, false, true)

	require.Equal(t, WriteOk, result)
	require.Empty(t, w.written, "delivery is gated on the playing state")
}

func TestSubscriberOutput_NilWriterWouldBlock(t *testing.T) {
	sub := NewSubscriberOutput("sess", 1, nil, time.Second, 0)
	sub.SetPlaying(true)

	// SeqID 0 would be dropped as a duplicate before the writer is ever
	// consulted; ingested packets are numbered from 1.
	p := rtpPacketWithSeq(1)
	p.SeqID = 1
	result := sub.WritePacket(p, 0, false, true)

	require.Equal(t, WriteWouldBlock, result)
}

func TestSubscriberOutput_RTPInfoPrefilter(t *testing.T) {
	w := &recordingWriter{blockAfter: 10}
	sub := NewSubscriberOutput("sess", 1, w, time.Second, 0)
	sub.SetPlaying(true)
	sub.SetFirstSequenceNumber(0, 100)

	// SeqID is the internal ingest-order dedup key, independent of the
	// RTP wire sequence number the prefilter gates on: it must keep
	// increasing across calls regardless of what the RTP seq does.
	below := rtpPacketWithSeq(50)
	below.SeqID = 1
	require.Equal(t, WriteOk, sub.WritePacket(below, 0, false, true))
	require.Empty(t, w.written, "a packet below the advertised first sequence number is dropped")

	atThreshold := rtpPacketWithSeq(100)
	atThreshold.SeqID = 2
	require.Equal(t, WriteOk, sub.WritePacket(atThreshold, 0, false, true))
	require.Len(t, w.written, 1, "the first in-range packet passes")

	laterLowerRTPSeq := rtpPacketWithSeq(5)
	laterLowerRTPSeq.SeqID = 3
	require.Equal(t, WriteOk, sub.WritePacket(laterLowerRTPSeq, 0, false, false))
	require.Len(t, w.written, 2, "the filter self-disables after the first pass")
}

func TestSubscriberOutput_DuplicateSuppression(t *testing.T) {
	w := &recordingWriter{blockAfter: 10}
	sub := NewSubscriberOutput("sess", 1, w, time.Second, 0)
	sub.SetPlaying(true)

	p := rtpPacketWithSeq(1)
	p.SeqID = 5

	require.Equal(t, WriteOk, sub.WritePacket(p, 0, false, true))
	require.Len(t, w.written, 1)

	require.Equal(t, WriteOk, sub.WritePacket(p, 0, false, false))
	require.Len(t, w.written, 1, "a packet at or below the last delivered SeqID is dropped")
}

func TestSubscriberOutput_ChannelRouting(t *testing.T) {
	w := &recordingWriter{blockAfter: 10}
	sub := NewSubscriberOutput("sess", 1, w, time.Second, 0)
	sub.SetPlaying(true)
	sub.SetChannels(0, 4, 5)

	rtp := rtpPacketWithSeq(1)
	rtp.SeqID = 1
	rtcp := rtpPacketWithSeq(1)
	rtcp.SeqID = 1

	sub.WritePacket(rtp, 0, false, true)
	sub.WritePacket(rtcp, 0, true, true)

	require.Equal(t, []int{4, 5}, w.channels, "RTP routes to channel 4, RTCP to channel 5")
}

func TestSubscriberOutput_TearDownClearsBookmarks(t *testing.T) {
	sub := NewSubscriberOutput("sess", 2, nil, time.Second, 0)
	sub.SetBookmark(0, &Packet{})
	sub.SetBookmark(3, &Packet{})

	sub.TearDown()

	for i := 0; i < 4; i++ {
		require.Nil(t, sub.Bookmark(i))
	}
}

func TestSubscriberOutput_IsPlayingReflectsSetPlaying(t *testing.T) {
	sub := NewSubscriberOutput("sess", 1, nil, time.Second, 0)
	require.False(t, sub.IsPlaying())

	sub.SetPlaying(true)
	require.True(t, sub.IsPlaying())

	sub.SetPlaying(false)
	require.False(t, sub.IsPlaying())
}
