package mkv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/codec"
)

func testStreams(t *testing.T) []av.Stream {
	sps := []byte{0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9}
	pps := []byte{0x68, 0xeb, 0xe3, 0xcb}
	record := []byte{1, 0x64, 0x00, 0x1f, 0xff, 0xe1}
	record = append(record, byte(len(sps)>>8), byte(len(sps)))
	record = append(record, sps...)
	record = append(record, 1, byte(len(pps)>>8), byte(len(pps)))
	record = append(record, pps...)

	vcd, err := codec.NewH264CodecDataFromRecord(record, 1280, 720)
	require.NoError(t, err)
	acd, err := codec.NewAACCodecDataFromConfig([]byte{0x11, 0x90})
	require.NoError(t, err)

	return []av.Stream{
		{CodecData: vcd, TimeBase: av.TimeBase(90000)},
		{CodecData: acd, TimeBase: av.TimeBase(48000)},
	}
}

func TestMuxerWritesEBMLSegment(t *testing.T) {
	var buf bytes.Buffer
	muxer := NewMuxer(&buf)
	require.NoError(t, muxer.WriteHeader(testStreams(t)))

	require.NoError(t, muxer.WritePacket(av.Packet{
		Idx:        0,
		IsKeyFrame: true,
		Pts:        av.NewTimestamp(0),
		Dts:        av.NewTimestamp(0),
		Data:       []byte{0, 0, 0, 2, 0x65, 0x01},
	}))
	require.NoError(t, muxer.WritePacket(av.Packet{
		Idx:  1,
		Pts:  av.NewTimestamp(1024),
		Data: []byte{0x21, 0x10},
	}))
	require.NoError(t, muxer.WriteTrailer())

	b := buf.Bytes()
	require.Greater(t, len(b), 4)
	assert.Equal(t, []byte{0x1a, 0x45, 0xdf, 0xa3}, b[:4], "EBML header magic")
	assert.True(t, bytes.Contains(b, []byte("V_MPEG4/ISO/AVC")))
	assert.True(t, bytes.Contains(b, []byte("A_AAC")))
}

func TestMuxerTrailerIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	muxer := NewMuxer(&buf)
	require.NoError(t, muxer.WriteHeader(testStreams(t)))
	require.NoError(t, muxer.WriteTrailer())
	require.NoError(t, muxer.WriteTrailer())
}

func TestMuxerRejectsPacketBeforeHeader(t *testing.T) {
	muxer := NewMuxer(&bytes.Buffer{})
	assert.Error(t, muxer.WritePacket(av.Packet{}))
	assert.Error(t, muxer.WriteTrailer())
}

func TestMuxerRejectsUnsupportedCodec(t *testing.T) {
	var buf bytes.Buffer
	muxer := NewMuxer(&buf)
	err := muxer.WriteHeader(nil)
	assert.Error(t, err)
}
