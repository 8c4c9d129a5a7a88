package pktque

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teocci/go-trim-av/av"
)

type testVideo struct{}

func (testVideo) Type() av.CodecType { return av.H264 }
func (testVideo) Width() int         { return 640 }
func (testVideo) Height() int        { return 480 }

type testAudio struct{}

func (testAudio) Type() av.CodecType            { return av.AAC }
func (testAudio) SampleRate() int               { return 48000 }
func (testAudio) SampleFormat() av.SampleFormat { return av.FLTP }
func (testAudio) ChannelLayout() av.ChannelLayout {
	return av.CH_STEREO
}

func testStreams() []av.Stream {
	return []av.Stream{
		{CodecData: testVideo{}, TimeBase: av.TimeBase(90000)},
		{CodecData: testAudio{}, TimeBase: av.TimeBase(48000)},
	}
}

func TestWaitKeyFrameGatesOnlyVideo(t *testing.T) {
	streams := testStreams()
	gate := &WaitKeyFrame{}

	drop, err := gate.ModifyPacket(&av.Packet{Idx: 0}, streams, 0, 1)
	require.NoError(t, err)
	assert.True(t, drop, "non-key video before first key frame must drop")

	drop, err = gate.ModifyPacket(&av.Packet{Idx: 1}, streams, 0, 1)
	require.NoError(t, err)
	assert.False(t, drop, "audio is never gated")

	drop, err = gate.ModifyPacket(&av.Packet{Idx: 0, IsKeyFrame: true}, streams, 0, 1)
	require.NoError(t, err)
	assert.False(t, drop)

	drop, err = gate.ModifyPacket(&av.Packet{Idx: 0}, streams, 0, 1)
	require.NoError(t, err)
	assert.False(t, drop, "gate stays open after the first key frame")
}

func TestRebaseFirstTimestampsBecomeZero(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{}

	pkt := av.Packet{Idx: 0, Pts: av.NewTimestamp(900300), Dts: av.NewTimestamp(900000)}
	_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(300), pkt.Pts.Ticks)
	assert.Equal(t, int64(0), pkt.Dts.Ticks)

	pkt = av.Packet{Idx: 0, Pts: av.NewTimestamp(903300), Dts: av.NewTimestamp(903000)}
	_, err = rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), pkt.Dts.Ticks)
}

func TestRebaseForcesMonotonicVideoDts(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{}

	var got []int64
	for _, dts := range []int64{100, 101, 99} {
		pkt := av.Packet{Idx: 0, Dts: av.NewTimestamp(dts)}
		_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
		require.NoError(t, err)
		got = append(got, pkt.Dts.Ticks+100)
	}
	assert.Equal(t, []int64{100, 101, 102}, got)
}

func TestRebaseAudioDtsNotForced(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{}

	pkt := av.Packet{Idx: 1, Dts: av.NewTimestamp(200)}
	_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)

	// an audio regression passes through untouched
	pkt = av.Packet{Idx: 1, Dts: av.NewTimestamp(150)}
	_, err = rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-50), pkt.Dts.Ticks)
}

func TestRebaseClampsVideoPtsToDts(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{}

	pkt := av.Packet{Idx: 0, Pts: av.NewTimestamp(1000), Dts: av.NewTimestamp(1000)}
	_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)

	// the forced dts bump may push dts past pts, which must then follow
	pkt = av.Packet{Idx: 0, Pts: av.NewTimestamp(1000), Dts: av.NewTimestamp(1000)}
	_, err = rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, pkt.Dts.Ticks, pkt.Pts.Ticks)
	assert.GreaterOrEqual(t, pkt.Pts.Ticks, pkt.Dts.Ticks)
}

func TestRebaseOriginsPerStreamAndField(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{}

	// video first packet carries only dts, its pts origin must come from a
	// later packet
	pkt := av.Packet{Idx: 0, Dts: av.NewTimestamp(9000)}
	_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pkt.Dts.Ticks)
	assert.False(t, pkt.Pts.Known)

	pkt = av.Packet{Idx: 0, Pts: av.NewTimestamp(12000), Dts: av.NewTimestamp(10000)}
	_, err = rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pkt.Pts.Ticks, "pts origin captured from first known pts")
	assert.Equal(t, int64(1000), pkt.Dts.Ticks)

	// audio origins are independent of video origins
	pkt = av.Packet{Idx: 1, Pts: av.NewTimestamp(4800), Dts: av.NewTimestamp(4800)}
	_, err = rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pkt.Pts.Ticks)
	assert.Equal(t, int64(0), pkt.Dts.Ticks)
}

func TestRebaseRescalesDurationAndClearsPos(t *testing.T) {
	streams := testStreams()
	rb := &Rebase{DstTimeBase: []av.Rational{{Num: 1, Den: 1000}, {Num: 1, Den: 1000}}}

	pkt := av.Packet{Idx: 0, Dts: av.NewTimestamp(0), Duration: 3000, Pos: 4096}
	_, err := rb.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(33), pkt.Duration, "3000 ticks at 90kHz is 33ms")
	assert.Equal(t, int64(-1), pkt.Pos)
}

type stubDemuxer struct {
	streams []av.Stream
	packets []av.Packet
	pos     int
}

func (d *stubDemuxer) Streams() ([]av.Stream, error) {
	return d.streams, nil
}

func (d *stubDemuxer) ReadPacket() (av.Packet, error) {
	if d.pos >= len(d.packets) {
		return av.Packet{}, io.EOF
	}
	pkt := d.packets[d.pos]
	d.pos++
	return pkt, nil
}

// dropNonKeyVideo records the indexes it is handed and drops non-key packets
// of the reference video stream.
type dropNonKeyVideo struct {
	videoidx int
	audioidx int
}

func (f *dropNonKeyVideo) ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error) {
	f.videoidx, f.audioidx = videoidx, audioidx
	drop = int(pkt.Idx) == videoidx && !pkt.IsKeyFrame
	return
}

func TestFilterDemuxerDropsAndSelectsReferenceStreams(t *testing.T) {
	// audio first, then two video streams: the reference must be the first
	// video by enumeration order, not the last
	streams := []av.Stream{
		{CodecData: testAudio{}, TimeBase: av.TimeBase(48000)},
		{CodecData: testVideo{}, TimeBase: av.TimeBase(90000)},
		{CodecData: testVideo{}, TimeBase: av.TimeBase(90000)},
	}
	filter := &dropNonKeyVideo{}
	fd := FilterDemuxer{
		Demuxer: &stubDemuxer{
			streams: streams,
			packets: []av.Packet{
				{Idx: 1, Dts: av.NewTimestamp(0)},
				{Idx: 1, IsKeyFrame: true, Dts: av.NewTimestamp(3000)},
				{Idx: 0, Dts: av.NewTimestamp(0)},
			},
		},
		Filter: filter,
	}

	pkt, err := fd.ReadPacket()
	require.NoError(t, err)
	assert.True(t, pkt.IsKeyFrame, "drop loop must skip the non-key video packet")
	assert.Equal(t, int8(1), pkt.Idx)
	assert.Equal(t, 1, filter.videoidx)
	assert.Equal(t, 0, filter.audioidx)

	pkt, err = fd.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, int8(0), pkt.Idx)

	_, err = fd.ReadPacket()
	assert.Equal(t, io.EOF, err)
}

func TestFiltersChainStopsOnDrop(t *testing.T) {
	streams := testStreams()
	filters := Filters{&WaitKeyFrame{}, &Rebase{}}

	pkt := av.Packet{Idx: 0, Dts: av.NewTimestamp(5000)}
	drop, err := filters.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	require.True(t, drop)
	assert.Equal(t, int64(5000), pkt.Dts.Ticks, "dropped packet must not reach the rebaser")

	pkt = av.Packet{Idx: 0, IsKeyFrame: true, Dts: av.NewTimestamp(6000)}
	drop, err = filters.ModifyPacket(&pkt, streams, 0, 1)
	require.NoError(t, err)
	require.False(t, drop)
	assert.Equal(t, int64(0), pkt.Dts.Ticks)
}
