// Package mkv
// Matroska muxing for stream copy, built on github.com/at-wat/ebml-go. H264
// blocks stay length-prefixed with the avcC record in CodecPrivate, AAC
// blocks stay raw with the AudioSpecificConfig in CodecPrivate.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package mkv

import (
	"fmt"
	"io"

	"github.com/at-wat/ebml-go/webm"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/codec"
)

var CodecTypes = []av.CodecType{av.H264, av.AAC}

// block timestamps use the default 1 ms timecode scale
var blockClock = av.Rational{Num: 1, Den: 1000}

// writerCloser adapts the plain sink to the io.WriteCloser the block writer
// wants without owning the underlying file.
type writerCloser struct {
	w      io.Writer
	closed bool
}

func (wc *writerCloser) Write(p []byte) (int, error) {
	if wc.closed {
		return 0, io.ErrClosedPipe
	}
	return wc.w.Write(p)
}

func (wc *writerCloser) Close() error {
	wc.closed = true
	return nil
}

type Muxer struct {
	w io.Writer

	streams []av.Stream
	blocks  []webm.BlockWriteCloser

	headerWritten  bool
	trailerWritten bool
}

func NewMuxer(w io.Writer) *Muxer {
	return &Muxer{w: w}
}

func (m *Muxer) WriteHeader(streams []av.Stream) (err error) {
	if m.headerWritten {
		return fmt.Errorf("mkv: header already written")
	}
	if len(streams) == 0 {
		return fmt.Errorf("mkv: no streams")
	}

	var entries []webm.TrackEntry
	for i, stream := range streams {
		entry := webm.TrackEntry{
			TrackNumber: uint64(i + 1),
			TrackUID:    uint64(i + 1),
		}
		switch cd := stream.CodecData.(type) {
		case codec.H264CodecData:
			entry.Name = "Video"
			entry.TrackType = 1
			entry.CodecID = "V_MPEG4/ISO/AVC"
			entry.CodecPrivate = cd.Record
			entry.Video = &webm.Video{
				PixelWidth:  uint64(cd.W),
				PixelHeight: uint64(cd.H),
			}
		case codec.AACCodecData:
			entry.Name = "Audio"
			entry.TrackType = 2
			entry.CodecID = "A_AAC"
			entry.CodecPrivate = cd.Config
			entry.Audio = &webm.Audio{
				SamplingFrequency: float64(cd.Rate),
				Channels:          uint64(cd.Channels),
			}
		default:
			return fmt.Errorf("mkv: codec type=%v is not supported", stream.Type())
		}
		entries = append(entries, entry)
	}

	if m.blocks, err = webm.NewSimpleBlockWriter(&writerCloser{w: m.w}, entries); err != nil {
		return fmt.Errorf("mkv: start segment: %w", err)
	}
	m.streams = streams
	m.headerWritten = true
	return
}

func (m *Muxer) WritePacket(pkt av.Packet) (err error) {
	if !m.headerWritten {
		return fmt.Errorf("mkv: write packet before header")
	}
	if int(pkt.Idx) < 0 || int(pkt.Idx) >= len(m.streams) {
		return fmt.Errorf("mkv: write packet: stream index=%d invalid", pkt.Idx)
	}
	stream := m.streams[int(pkt.Idx)]

	var ms int64
	switch {
	case pkt.Pts.Known:
		ms = av.Rescale(pkt.Pts.Ticks, stream.TimeBase, blockClock)
	case pkt.Dts.Known:
		ms = av.Rescale(pkt.Dts.Ticks, stream.TimeBase, blockClock)
	}

	keyframe := pkt.IsKeyFrame || stream.Type().IsAudio()
	_, err = m.blocks[int(pkt.Idx)].Write(keyframe, ms, pkt.Data)
	return
}

// WriteTrailer closes every track writer, which finalizes the segment.
func (m *Muxer) WriteTrailer() (err error) {
	if !m.headerWritten {
		return fmt.Errorf("mkv: write trailer before header")
	}
	if m.trailerWritten {
		return
	}
	m.trailerWritten = true
	for _, block := range m.blocks {
		if cerr := block.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("mkv: finalize segment: %w", cerr)
		}
	}
	return
}
