// Package ts
// MPEG-TS muxing for stream copy, built on github.com/asticode/go-astits.
// H264 samples are repacked from length-prefixed to Annex B and AAC frames
// get ADTS headers, since a transport stream carries no global codec
// configuration.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package ts

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/codec"
)

var CodecTypes = []av.CodecType{av.H264, av.AAC}

// ptsClock is the 90 kHz PES timestamp clock.
var ptsClock = av.Rational{Num: 1, Den: 90000}

const (
	basePID       = 256
	videoStreamID = 224
	audioStreamID = 192
)

type muxStream struct {
	av.Stream
	pid      uint16
	streamID uint8
}

// Muxer writes an MPEG-TS. Timestamps are rescaled from each stream's time
// base into the 90 kHz PES clock at write time.
type Muxer struct {
	w  io.Writer
	tm *astits.Muxer

	streams       []*muxStream
	headerWritten bool
}

func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

func (m *Muxer) WriteHeader(streams []av.Stream) (err error) {
	if m.headerWritten {
		return fmt.Errorf("ts: header already written")
	}
	if len(streams) == 0 {
		return fmt.Errorf("ts: no streams")
	}

	m.tm = astits.NewMuxer(context.Background(), m.w)
	pcrSet := false
	for i, stream := range streams {
		ms := &muxStream{Stream: stream, pid: uint16(basePID + i)}
		var st astits.StreamType
		switch stream.Type() {
		case av.H264:
			st = astits.StreamTypeH264Video
			ms.streamID = videoStreamID
		case av.AAC:
			st = astits.StreamTypeAACAudio
			ms.streamID = audioStreamID
		default:
			return fmt.Errorf("ts: codec type=%v is not supported", stream.Type())
		}
		if err = m.tm.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: ms.pid,
			StreamType:    st,
		}); err != nil {
			return
		}
		if stream.Type().IsVideo() && !pcrSet {
			m.tm.SetPCRPID(ms.pid)
			pcrSet = true
		}
		m.streams = append(m.streams, ms)
	}
	if !pcrSet {
		m.tm.SetPCRPID(m.streams[0].pid)
	}

	m.headerWritten = true
	return
}

func (m *Muxer) WritePacket(pkt av.Packet) (err error) {
	if !m.headerWritten {
		return fmt.Errorf("ts: write packet before header")
	}
	if int(pkt.Idx) < 0 || int(pkt.Idx) >= len(m.streams) {
		return fmt.Errorf("ts: write packet: stream index=%d invalid", pkt.Idx)
	}
	stream := m.streams[int(pkt.Idx)]

	var data []byte
	if data, err = m.payload(stream, pkt); err != nil {
		return
	}

	header := &astits.PESHeader{StreamID: stream.streamID}
	opt := &astits.PESOptionalHeader{MarkerBits: 2}
	switch {
	case pkt.Pts.Known && pkt.Dts.Known:
		opt.PTSDTSIndicator = astits.PTSDTSIndicatorBothPresent
		opt.PTS = &astits.ClockReference{Base: av.Rescale(pkt.Pts.Ticks, stream.TimeBase, ptsClock)}
		opt.DTS = &astits.ClockReference{Base: av.Rescale(pkt.Dts.Ticks, stream.TimeBase, ptsClock)}
	case pkt.Pts.Known:
		opt.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		opt.PTS = &astits.ClockReference{Base: av.Rescale(pkt.Pts.Ticks, stream.TimeBase, ptsClock)}
	case pkt.Dts.Known:
		opt.PTSDTSIndicator = astits.PTSDTSIndicatorOnlyPTS
		opt.PTS = &astits.ClockReference{Base: av.Rescale(pkt.Dts.Ticks, stream.TimeBase, ptsClock)}
	default:
		opt.PTSDTSIndicator = astits.PTSDTSIndicatorNoPTSOrDTS
	}
	header.OptionalHeader = opt

	_, err = m.tm.WriteData(&astits.MuxerData{
		PID: stream.pid,
		AdaptationField: &astits.PacketAdaptationField{
			RandomAccessIndicator: pkt.IsKeyFrame || stream.Type().IsAudio(),
		},
		PES: &astits.PESData{
			Header: header,
			Data:   data,
		},
	})
	return
}

// payload repacks a sample into the elementary-stream form MPEG-TS expects.
func (m *Muxer) payload(stream *muxStream, pkt av.Packet) ([]byte, error) {
	switch cd := stream.CodecData.(type) {
	case codec.H264CodecData:
		var sps, pps []byte
		if pkt.IsKeyFrame {
			sps, pps = cd.SPS, cd.PPS
		}
		return codec.AVCCToAnnexB(pkt.Data, cd.LengthSize, sps, pps)
	case codec.AACCodecData:
		out := make([]byte, codec.ADTSHeaderLength+len(pkt.Data))
		cd.FillADTSHeader(out, len(pkt.Data))
		copy(out[codec.ADTSHeaderLength:], pkt.Data)
		return out, nil
	}
	return nil, fmt.Errorf("ts: codec type=%v is not supported", stream.Type())
}

// WriteTrailer is a no-op: a transport stream has no index or trailer.
func (m *Muxer) WriteTrailer() (err error) {
	if !m.headerWritten {
		return fmt.Errorf("ts: write trailer before header")
	}
	return
}
