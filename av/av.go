// Package av
// Defines basic interfaces and data structures of container demux/mux used by the
// stream-copy trimming pipeline.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-27
package av

import (
	"fmt"
	"time"
)

// SampleFormat Audio sample format.
type SampleFormat uint8

const (
	U8   = SampleFormat(iota + 1) // 8-bit unsigned integer
	S16                           // signed 16-bit integer
	S32                           // signed 32-bit integer
	FLT                           // 32-bit float
	DBL                           // 64-bit float
	U8P                           // 8-bit unsigned integer in planar
	S16P                          // signed 16-bit integer in planar
	S32P                          // signed 32-bit integer in planar
	FLTP                          // 32-bit float in planar
	DBLP                          // 64-bit float in planar
)

func (sf SampleFormat) BytesPerSample() int {
	switch sf {
	case U8, U8P:
		return 1
	case S16, S16P:
		return 2
	case FLT, FLTP, S32, S32P:
		return 4
	case DBL, DBLP:
		return 8
	default:
		return 0
	}
}

func (sf SampleFormat) String() string {
	switch sf {
	case U8:
		return "U8"
	case S16:
		return "S16"
	case S32:
		return "S32"
	case FLT:
		return "FLT"
	case DBL:
		return "DBL"
	case U8P:
		return "U8P"
	case S16P:
		return "S16P"
	case FLTP:
		return "FLTP"
	case DBLP:
		return "DBLP"
	default:
		return "?"
	}
}

// ChannelLayout represents an audio channel layout.
type ChannelLayout uint16

func (cl ChannelLayout) String() string {
	return fmt.Sprintf("%dch", cl.Count())
}

const (
	CH_FRONT_CENTER = ChannelLayout(1 << iota)
	CH_FRONT_LEFT
	CH_FRONT_RIGHT
	CH_BACK_CENTER
	CH_BACK_LEFT
	CH_BACK_RIGHT
	CH_SIDE_LEFT
	CH_SIDE_RIGHT
	CH_LOW_FREQ
	CH_NR

	CH_MONO     = ChannelLayout(CH_FRONT_CENTER)
	CH_STEREO   = ChannelLayout(CH_FRONT_LEFT | CH_FRONT_RIGHT)
	CH_2_1      = ChannelLayout(CH_STEREO | CH_BACK_CENTER)
	CH_2POINT1  = ChannelLayout(CH_STEREO | CH_LOW_FREQ)
	CH_SURROUND = ChannelLayout(CH_STEREO | CH_FRONT_CENTER)
	CH_3POINT1  = ChannelLayout(CH_SURROUND | CH_LOW_FREQ)
)

func (cl ChannelLayout) Count() (n int) {
	for cl != 0 {
		n++
		cl = (cl - 1) & cl
	}
	return
}

// MakeChannelLayout builds a layout from a plain channel count.
func MakeChannelLayout(count int) ChannelLayout {
	switch count {
	case 1:
		return CH_MONO
	case 3:
		return CH_SURROUND
	default:
		cl := ChannelLayout(0)
		for i := 0; i < count; i++ {
			cl |= ChannelLayout(1 << uint(i))
		}
		return cl
	}
}

// CodecType represents a Video/Audio codec type. can be H264/AAC/...
type CodecType uint32

var (
	H264 = MakeVideoCodecType(avCodecTypeMagic + 1)
	H265 = MakeVideoCodecType(avCodecTypeMagic + 2)
	AAC  = MakeAudioCodecType(avCodecTypeMagic + 1)
	OPUS = MakeAudioCodecType(avCodecTypeMagic + 2)
)

const codecTypeAudioBit = 0x1
const codecTypeOtherBits = 1

func (ct CodecType) String() string {
	switch ct {
	case H264:
		return "H264"
	case H265:
		return "H265"
	case AAC:
		return "AAC"
	case OPUS:
		return "OPUS"
	}
	return ""
}

func (ct CodecType) IsAudio() bool {
	return ct&codecTypeAudioBit != 0
}

func (ct CodecType) IsVideo() bool {
	return ct&codecTypeAudioBit == 0
}

// MakeAudioCodecType creates a new audio codec type.
func MakeAudioCodecType(base uint32) (c CodecType) {
	c = CodecType(base)<<codecTypeOtherBits | CodecType(codecTypeAudioBit)
	return
}

// MakeVideoCodecType creates a new video codec type.
func MakeVideoCodecType(base uint32) (c CodecType) {
	c = CodecType(base) << codecTypeOtherBits
	return
}

const avCodecTypeMagic = 233333

// CodecData is some important bytes for initializing audio/video decoder,
// can be converted to VideoCodecData or AudioCodecData using:
//
//	codecdata.(AudioCodecData) or codecdata.(VideoCodecData)
//
// for H264, CodecData wraps the AVCDecoderConfigurationRecord, includes SPS/PPS.
type CodecData interface {
	Type() CodecType // Video/Audio codec type
}

type VideoCodecData interface {
	CodecData
	Width() int  // Video width
	Height() int // Video height
}

type AudioCodecData interface {
	CodecData
	SampleFormat() SampleFormat   // audio sample format
	SampleRate() int              // audio sample rate
	ChannelLayout() ChannelLayout // audio channel layout
}

// Rational is a stream time base: one tick lasts Num/Den seconds.
type Rational struct {
	Num int64
	Den int64
}

// TimeBase builds the 1/timeScale time base an mp4 media header carries.
func TimeBase(timeScale int64) Rational {
	return Rational{Num: 1, Den: timeScale}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Seconds converts a tick count in this time base to seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ticks) * float64(r.Num) / float64(r.Den)
}

// Ticks converts seconds to a tick count in this time base, truncating.
func (r Rational) Ticks(sec float64) int64 {
	if r.Num == 0 {
		return 0
	}
	return int64(sec * float64(r.Den) / float64(r.Num))
}

// Duration converts a tick count in this time base to a time.Duration.
func (r Rational) Duration(ticks int64) time.Duration {
	if r.Den == 0 {
		return 0
	}
	return time.Duration(ticks) * time.Duration(r.Num) * time.Second / time.Duration(r.Den)
}

// Rescale converts a tick count between two time bases, rounding toward zero.
func Rescale(ticks int64, from, to Rational) int64 {
	if from == to || from.Den == 0 || to.Num == 0 {
		return ticks
	}
	return ticks * from.Num * to.Den / (from.Den * to.Num)
}

// Timestamp is a tick count in a stream time base. The zero value means the
// timestamp is unknown, which is legal for a container packet; a legitimately
// zero timestamp is Timestamp{Ticks: 0, Known: true}.
type Timestamp struct {
	Ticks int64
	Known bool
}

// NewTimestamp wraps a known tick count.
func NewTimestamp(ticks int64) Timestamp {
	return Timestamp{Ticks: ticks, Known: true}
}

func (t Timestamp) String() string {
	if !t.Known {
		return "unknown"
	}
	return fmt.Sprintf("%d", t.Ticks)
}

// Packet stores one compressed audio/video access unit.
type Packet struct {
	Idx        int8      // stream index in container format
	IsKeyFrame bool      // video packet is key frame
	Pts        Timestamp // presentation timestamp in the stream time base
	Dts        Timestamp // decode timestamp in the stream time base
	Duration   int64     // packet duration in the stream time base
	Pos        int64     // byte offset in the source, -1 when meaningless
	Data       []byte    // packet data
}

// Time reports the packet presentation time in seconds, preferring Pts and
// falling back to Dts. ok is false when the packet carries neither.
func (pkt Packet) Time(tb Rational) (sec float64, ok bool) {
	switch {
	case pkt.Pts.Known:
		return tb.Seconds(pkt.Pts.Ticks), true
	case pkt.Dts.Known:
		return tb.Seconds(pkt.Dts.Ticks), true
	}
	return 0, false
}

// Stream describes one elementary stream of a container: its codec parameters
// and the time base its packet timestamps are expressed in.
type Stream struct {
	CodecData
	TimeBase Rational
}

type PacketWriter interface {
	WritePacket(Packet) error
}

type PacketReader interface {
	ReadPacket() (Packet, error)
}

// Muxer describes the steps of writing compressed audio/video packets into container formats like MP4/MPEG-TS/MKV.
type Muxer interface {
	WriteHeader([]Stream) error // write the file header
	PacketWriter                // write compressed audio/video packets, interleaved
	WriteTrailer() error        // finish writing file, this func can be called only once
}

// MuxCloser is a Muxer with Close() method
type MuxCloser interface {
	Muxer
	Close() error
}

// Demuxer can read compressed audio/video packets from container formats like MP4.
// Streams enumerates only audio and video elementary streams; other kinds are
// never surfaced.
type Demuxer interface {
	PacketReader                // read compressed audio/video packets
	Streams() ([]Stream, error) // reads the file header, contains video/audio meta information
}

// DemuxCloser is a Demuxer with Close() method
type DemuxCloser interface {
	Demuxer
	Close() error
}

// Seeker positions a demuxer so that the next packets read start at or before
// target (a tick count in stream idx's time base), never after it. A video
// stream additionally snaps to the nearest preceding key frame.
type Seeker interface {
	SeekBackward(idx int8, target int64) error
}
