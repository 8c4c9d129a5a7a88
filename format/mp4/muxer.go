package mp4

import (
	"fmt"
	"io"
	"math"

	gomp4 "github.com/abema/go-mp4"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/codec"
)

const movieTimeScale = 1000

var unityMatrix = [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}

// Muxer writes a progressive MP4: ftyp, then one growing mdat fed packet by
// packet, then the moov rebuilt from the recorded sample index at trailer
// time. Box sizes are patched by the writer when each box is closed.
type Muxer struct {
	w  io.WriteSeeker
	mw *gomp4.Writer

	streams []*Stream
	offset  int64

	headerWritten  bool
	trailerWritten bool
}

func NewMuxer(w io.WriteSeeker) *Muxer {
	return &Muxer{w: w, mw: gomp4.NewWriter(w)}
}

func (m *Muxer) WriteHeader(streams []av.Stream) (err error) {
	if m.headerWritten {
		return fmt.Errorf("mp4: header already written")
	}
	if len(streams) == 0 {
		return fmt.Errorf("mp4: no streams")
	}

	for i, stream := range streams {
		ms := &Stream{Stream: stream, trackID: uint32(i + 1), muxer: m}
		switch cd := stream.CodecData.(type) {
		case codec.H264CodecData:
			ms.avcc = cd.Record
		case codec.AACCodecData:
			if ms.esds = cd.ESDS; ms.esds == nil {
				ms.esds = buildEsdsPayload(cd.Config)
			}
		default:
			return fmt.Errorf("mp4: codec type=%v is not supported", stream.Type())
		}
		// keep the source tick unit so timestamps copy through unchanged
		if stream.TimeBase.Num == 1 && stream.TimeBase.Den > 0 {
			ms.timeScale = uint32(stream.TimeBase.Den)
		} else {
			ms.timeScale = 90000
		}
		m.streams = append(m.streams, ms)
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeFtyp()}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(m.mw, &gomp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 0x200,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}, gomp4.Context{}); err != nil {
		return
	}
	var ftyp *gomp4.BoxInfo
	if ftyp, err = m.mw.EndBox(); err != nil {
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat()}); err != nil {
		return
	}
	m.offset = int64(ftyp.Size) + 8
	m.headerWritten = true
	return
}

func (m *Muxer) WritePacket(pkt av.Packet) (err error) {
	if !m.headerWritten {
		return fmt.Errorf("mp4: write packet before header")
	}
	if int(pkt.Idx) < 0 || int(pkt.Idx) >= len(m.streams) {
		return fmt.Errorf("mp4: write packet: stream index=%d invalid", pkt.Idx)
	}
	stream := m.streams[int(pkt.Idx)]

	dst := av.TimeBase(int64(stream.timeScale))
	var dts int64
	switch {
	case pkt.Dts.Known:
		dts = av.Rescale(pkt.Dts.Ticks, stream.TimeBase, dst)
	case pkt.Pts.Known:
		dts = av.Rescale(pkt.Pts.Ticks, stream.TimeBase, dst)
	}
	pts := dts
	if pkt.Pts.Known {
		pts = av.Rescale(pkt.Pts.Ticks, stream.TimeBase, dst)
	}
	cts := pts - dts
	if cts < 0 {
		cts = 0
	}

	if _, err = m.mw.Write(pkt.Data); err != nil {
		return
	}
	stream.samples = append(stream.samples, sample{
		off:  m.offset,
		size: len(pkt.Data),
		dts:  dts,
		cts:  cts,
		dur:  av.Rescale(pkt.Duration, stream.TimeBase, dst),
		sync: pkt.IsKeyFrame || stream.Type().IsAudio(),
	})
	m.offset += int64(len(pkt.Data))
	return
}

// WriteTrailer closes the mdat and emits the moov. Safe to call once even
// when no packet was accepted.
func (m *Muxer) WriteTrailer() (err error) {
	if !m.headerWritten {
		return fmt.Errorf("mp4: write trailer before header")
	}
	if m.trailerWritten {
		return fmt.Errorf("mp4: trailer already written")
	}
	m.trailerWritten = true

	if _, err = m.mw.EndBox(); err != nil { // mdat
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMoov()}); err != nil {
		return
	}

	var movieDur int64
	for _, stream := range m.streams {
		d := av.Rescale(stream.duration(), av.TimeBase(int64(stream.timeScale)), av.TimeBase(movieTimeScale))
		if d > movieDur {
			movieDur = d
		}
	}
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMvhd()}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(m.mw, &gomp4.Mvhd{
		Timescale:   movieTimeScale,
		DurationV0:  uint32(movieDur),
		Rate:        0x10000,
		Volume:      0x100,
		Matrix:      unityMatrix,
		NextTrackID: uint32(len(m.streams) + 1),
	}, gomp4.Context{}); err != nil {
		return
	}
	if _, err = m.mw.EndBox(); err != nil {
		return
	}

	for _, stream := range m.streams {
		if err = m.writeTrak(stream, movieDur); err != nil {
			return
		}
	}

	_, err = m.mw.EndBox() // moov
	return
}

func (m *Muxer) writeTrak(stream *Stream, movieDur int64) (err error) {
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeTrak()}); err != nil {
		return
	}

	tkhd := &gomp4.Tkhd{
		FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID: stream.trackID,
		// track duration is expressed in the movie time scale
		DurationV0: uint32(movieDur),
		Matrix:     unityMatrix,
	}
	if vcd, ok := stream.CodecData.(av.VideoCodecData); ok {
		tkhd.Width = uint32(vcd.Width()) << 16
		tkhd.Height = uint32(vcd.Height()) << 16
	} else {
		tkhd.Volume = 0x100
		tkhd.AlternateGroup = 1
	}
	if err = m.writeLeaf(gomp4.BoxTypeTkhd(), tkhd); err != nil {
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdia()}); err != nil {
		return
	}
	if err = m.writeLeaf(gomp4.BoxTypeMdhd(), &gomp4.Mdhd{
		Timescale:  stream.timeScale,
		DurationV0: uint32(stream.duration()),
		Language:   [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
	}); err != nil {
		return
	}

	hdlr := &gomp4.Hdlr{HandlerType: [4]byte{'s', 'o', 'u', 'n'}, Name: "SoundHandler"}
	if stream.Type().IsVideo() {
		hdlr = &gomp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}, Name: "VideoHandler"}
	}
	if err = m.writeLeaf(gomp4.BoxTypeHdlr(), hdlr); err != nil {
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMinf()}); err != nil {
		return
	}
	if stream.Type().IsVideo() {
		err = m.writeLeaf(gomp4.BoxTypeVmhd(), &gomp4.Vmhd{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}})
	} else {
		err = m.writeLeaf(gomp4.BoxTypeSmhd(), &gomp4.Smhd{})
	}
	if err != nil {
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeDinf()}); err != nil {
		return
	}
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeDref()}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(m.mw, &gomp4.Dref{EntryCount: 1}, gomp4.Context{}); err != nil {
		return
	}
	if err = m.writeLeaf(gomp4.BoxTypeUrl(), &gomp4.Url{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}); err != nil {
		return
	}
	if _, err = m.mw.EndBox(); err != nil { // dref
		return
	}
	if _, err = m.mw.EndBox(); err != nil { // dinf
		return
	}

	if err = m.writeStbl(stream); err != nil {
		return
	}

	if _, err = m.mw.EndBox(); err != nil { // minf
		return
	}
	if _, err = m.mw.EndBox(); err != nil { // mdia
		return
	}
	_, err = m.mw.EndBox() // trak
	return
}

func (m *Muxer) writeStbl(stream *Stream) (err error) {
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStbl()}); err != nil {
		return
	}

	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeStsd()}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(m.mw, &gomp4.Stsd{EntryCount: 1}, gomp4.Context{}); err != nil {
		return
	}
	if err = m.writeSampleEntry(stream); err != nil {
		return
	}
	if _, err = m.mw.EndBox(); err != nil { // stsd
		return
	}

	stts := &gomp4.Stts{}
	for i, sm := range stream.samples {
		delta := sm.dur
		if i+1 < len(stream.samples) {
			delta = stream.samples[i+1].dts - sm.dts
		}
		n := len(stts.Entries)
		if n > 0 && int64(stts.Entries[n-1].SampleDelta) == delta {
			stts.Entries[n-1].SampleCount++
		} else {
			stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(delta)})
		}
	}
	if err = m.writeLeaf(gomp4.BoxTypeStts(), stts); err != nil {
		return
	}

	hasCts := false
	for _, sm := range stream.samples {
		if sm.cts != 0 {
			hasCts = true
			break
		}
	}
	if hasCts {
		ctts := &gomp4.Ctts{}
		for _, sm := range stream.samples {
			n := len(ctts.Entries)
			if n > 0 && int64(ctts.Entries[n-1].SampleOffsetV0) == sm.cts {
				ctts.Entries[n-1].SampleCount++
			} else {
				ctts.Entries = append(ctts.Entries, gomp4.CttsEntry{SampleCount: 1, SampleOffsetV0: uint32(sm.cts)})
			}
		}
		if err = m.writeLeaf(gomp4.BoxTypeCtts(), ctts); err != nil {
			return
		}
	}

	if stream.Type().IsVideo() {
		stss := &gomp4.Stss{}
		for i, sm := range stream.samples {
			if sm.sync {
				stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
			}
		}
		if len(stss.SampleNumber) < len(stream.samples) {
			if err = m.writeLeaf(gomp4.BoxTypeStss(), stss); err != nil {
				return
			}
		}
	}

	if err = m.writeLeaf(gomp4.BoxTypeStsc(), &gomp4.Stsc{
		Entries: []gomp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}},
	}); err != nil {
		return
	}

	stsz := &gomp4.Stsz{SampleCount: uint32(len(stream.samples))}
	for _, sm := range stream.samples {
		stsz.EntrySize = append(stsz.EntrySize, uint32(sm.size))
	}
	if err = m.writeLeaf(gomp4.BoxTypeStsz(), stsz); err != nil {
		return
	}

	if needsCo64(stream.samples) {
		co64 := &gomp4.Co64{}
		for _, sm := range stream.samples {
			co64.ChunkOffset = append(co64.ChunkOffset, uint64(sm.off))
		}
		if err = m.writeLeaf(gomp4.BoxTypeCo64(), co64); err != nil {
			return
		}
	} else {
		stco := &gomp4.Stco{}
		for _, sm := range stream.samples {
			stco.ChunkOffset = append(stco.ChunkOffset, uint32(sm.off))
		}
		if err = m.writeLeaf(gomp4.BoxTypeStco(), stco); err != nil {
			return
		}
	}

	_, err = m.mw.EndBox() // stbl
	return
}

// needsCo64 reports whether any chunk offset no longer fits a 32-bit stco entry.
func needsCo64(samples []sample) bool {
	for _, sm := range samples {
		if sm.off > math.MaxUint32 {
			return true
		}
	}
	return false
}

func (m *Muxer) writeSampleEntry(stream *Stream) (err error) {
	switch cd := stream.CodecData.(type) {
	case codec.H264CodecData:
		if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeAvc1()}); err != nil {
			return
		}
		if _, err = gomp4.Marshal(m.mw, &gomp4.VisualSampleEntry{
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox:         gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvc1()},
				DataReferenceIndex: 1,
			},
			Width:           uint16(cd.W),
			Height:          uint16(cd.H),
			Horizresolution: 0x480000,
			Vertresolution:  0x480000,
			FrameCount:      1,
			Depth:           0x18,
			PreDefined3:     -1,
		}, gomp4.Context{}); err != nil {
			return
		}
		if err = m.writeRaw(gomp4.BoxTypeAvcC(), stream.avcc); err != nil {
			return
		}
		_, err = m.mw.EndBox()
	case codec.AACCodecData:
		if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMp4a()}); err != nil {
			return
		}
		if _, err = gomp4.Marshal(m.mw, &gomp4.AudioSampleEntry{
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox:         gomp4.AnyTypeBox{Type: gomp4.BoxTypeMp4a()},
				DataReferenceIndex: 1,
			},
			ChannelCount: uint16(cd.Channels),
			SampleSize:   16,
			SampleRate:   uint32(cd.Rate) << 16,
		}, gomp4.Context{}); err != nil {
			return
		}
		if err = m.writeRaw(gomp4.BoxTypeEsds(), stream.esds); err != nil {
			return
		}
		_, err = m.mw.EndBox()
	default:
		err = fmt.Errorf("mp4: codec type=%v is not supported", stream.Type())
	}
	return
}

func (m *Muxer) writeLeaf(t gomp4.BoxType, payload gomp4.IImmutableBox) (err error) {
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: t}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(m.mw, payload, gomp4.Context{}); err != nil {
		return
	}
	_, err = m.mw.EndBox()
	return
}

func (m *Muxer) writeRaw(t gomp4.BoxType, payload []byte) (err error) {
	if _, err = m.mw.StartBox(&gomp4.BoxInfo{Type: t}); err != nil {
		return
	}
	if _, err = m.mw.Write(payload); err != nil {
		return
	}
	_, err = m.mw.EndBox()
	return
}

// buildEsdsPayload encodes a minimal esds box body around an
// AudioSpecificConfig, used when the source did not provide one to copy.
func buildEsdsPayload(asc []byte) []byte {
	decSpecificLen := len(asc)
	decConfigLen := 13 + 2 + decSpecificLen
	esLen := 3 + 2 + decConfigLen + 3

	b := make([]byte, 0, 4+2+esLen)
	b = append(b, 0, 0, 0, 0) // version and flags

	b = append(b, 0x03, byte(esLen))
	b = append(b, 0, 1, 0) // ES_ID=1, no flags

	b = append(b, 0x04, byte(decConfigLen))
	b = append(b, 0x40, 0x15) // AAC, audio stream
	b = append(b, 0, 0, 0)    // buffer size
	b = append(b, 0, 0, 0, 0) // max bitrate
	b = append(b, 0, 0, 0, 0) // avg bitrate

	b = append(b, 0x05, byte(decSpecificLen))
	b = append(b, asc...)

	b = append(b, 0x06, 0x01, 0x02)
	return b
}
