package mp4

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/codec"
)

// Demuxer reads a progressive MP4: the moov sample tables are flattened into
// a per-track sample index once, packets are then served in decode order
// across tracks.
type Demuxer struct {
	r       io.ReadSeeker
	streams []*Stream
	probed  bool
}

func NewDemuxer(r io.ReadSeeker) *Demuxer {
	return &Demuxer{r: r}
}

func (d *Demuxer) Streams() (streams []av.Stream, err error) {
	if err = d.probe(); err != nil {
		return
	}
	for _, stream := range d.streams {
		streams = append(streams, stream.Stream)
	}
	return
}

func (d *Demuxer) probe() (err error) {
	if d.probed {
		return
	}

	var traks []*gomp4.BoxInfo
	if traks, err = gomp4.ExtractBoxes(d.r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak()},
	}); err != nil {
		return fmt.Errorf("mp4: read moov: %w", err)
	}

	for _, trak := range traks {
		var stream *Stream
		if stream, err = d.readTrack(trak); err != nil {
			return
		}
		if stream == nil {
			continue
		}
		stream.demuxer = d
		d.streams = append(d.streams, stream)
	}

	d.probed = true
	return
}

// rawPayload returns the body bytes of a box, header excluded.
func (d *Demuxer) rawPayload(bi gomp4.BoxInfo) (b []byte, err error) {
	if _, err = bi.SeekToPayload(d.r); err != nil {
		return
	}
	b = make([]byte, bi.Size-bi.HeaderSize)
	_, err = io.ReadFull(d.r, b)
	return
}

// readTrack flattens one trak box into a Stream. Tracks that are neither AVC
// video nor AAC audio are skipped and reported as nil.
func (d *Demuxer) readTrack(trak *gomp4.BoxInfo) (stream *Stream, err error) {
	var bips []*gomp4.BoxInfoWithPayload
	if bips, err = gomp4.ExtractBoxesWithPayload(d.r, trak, []gomp4.BoxPath{
		{gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeAvc1()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeAvc1(), gomp4.BoxTypeAvcC()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStts()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeCtts()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStss()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsc()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsz()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStco()},
		{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeCo64()},
	}); err != nil {
		return nil, fmt.Errorf("mp4: read trak: %w", err)
	}

	var (
		tkhd *gomp4.Tkhd
		mdhd *gomp4.Mdhd
		avc1 *gomp4.VisualSampleEntry
		esds *gomp4.Esds
		stts *gomp4.Stts
		ctts *gomp4.Ctts
		stss *gomp4.Stss
		stsc *gomp4.Stsc
		stsz *gomp4.Stsz
		stco *gomp4.Stco
		co64 *gomp4.Co64

		avccRaw []byte
		esdsRaw []byte
	)
	for _, bip := range bips {
		switch bip.Info.Type {
		case gomp4.BoxTypeTkhd():
			tkhd = bip.Payload.(*gomp4.Tkhd)
		case gomp4.BoxTypeMdhd():
			mdhd = bip.Payload.(*gomp4.Mdhd)
		case gomp4.BoxTypeAvc1():
			avc1 = bip.Payload.(*gomp4.VisualSampleEntry)
		case gomp4.BoxTypeAvcC():
			if avccRaw, err = d.rawPayload(bip.Info); err != nil {
				return
			}
		case gomp4.BoxTypeEsds():
			esds = bip.Payload.(*gomp4.Esds)
			if esdsRaw, err = d.rawPayload(bip.Info); err != nil {
				return
			}
		case gomp4.BoxTypeStts():
			stts = bip.Payload.(*gomp4.Stts)
		case gomp4.BoxTypeCtts():
			ctts = bip.Payload.(*gomp4.Ctts)
		case gomp4.BoxTypeStss():
			stss = bip.Payload.(*gomp4.Stss)
		case gomp4.BoxTypeStsc():
			stsc = bip.Payload.(*gomp4.Stsc)
		case gomp4.BoxTypeStsz():
			stsz = bip.Payload.(*gomp4.Stsz)
		case gomp4.BoxTypeStco():
			stco = bip.Payload.(*gomp4.Stco)
		case gomp4.BoxTypeCo64():
			co64 = bip.Payload.(*gomp4.Co64)
		}
	}

	if tkhd == nil || mdhd == nil {
		return nil, fmt.Errorf("mp4: trak missing tkhd or mdhd")
	}

	stream = &Stream{
		trackID:   tkhd.TrackID,
		timeScale: mdhd.Timescale,
		avcc:      avccRaw,
		esds:      esdsRaw,
	}
	stream.TimeBase = av.TimeBase(int64(mdhd.Timescale))

	switch {
	case avc1 != nil && avccRaw != nil:
		var cd codec.H264CodecData
		if cd, err = codec.NewH264CodecDataFromRecord(avccRaw, int(avc1.Width), int(avc1.Height)); err != nil {
			return nil, err
		}
		stream.CodecData = cd
	case esds != nil:
		var asc []byte
		for _, desc := range esds.Descriptors {
			if desc.Tag == gomp4.DecSpecificInfoTag {
				asc = desc.Data
			}
		}
		if asc == nil {
			return nil, fmt.Errorf("mp4: esds without AudioSpecificConfig")
		}
		var cd codec.AACCodecData
		if cd, err = codec.NewAACCodecDataFromConfig(asc); err != nil {
			return nil, err
		}
		cd.ESDS = esdsRaw
		stream.CodecData = cd
	default:
		// neither AVC nor AAC, not copied
		return nil, nil
	}

	if err = stream.buildSampleIndex(stts, ctts, stss, stsc, stsz, stco, co64); err != nil {
		return nil, err
	}
	return
}

// buildSampleIndex walks the stbl child tables into the flat per-sample form
// ReadPacket serves from.
func (s *Stream) buildSampleIndex(stts *gomp4.Stts, ctts *gomp4.Ctts, stss *gomp4.Stss, stsc *gomp4.Stsc, stsz *gomp4.Stsz, stco *gomp4.Stco, co64 *gomp4.Co64) error {
	if stts == nil || stsc == nil || stsz == nil {
		return fmt.Errorf("mp4: trak %d missing sample tables", s.trackID)
	}

	var dts int64
	for _, entry := range stts.Entries {
		for i := uint32(0); i < entry.SampleCount; i++ {
			s.samples = append(s.samples, sample{dts: dts, dur: int64(entry.SampleDelta)})
			dts += int64(entry.SampleDelta)
		}
	}

	if len(stsz.EntrySize) > 0 {
		for i := 0; i < len(stsz.EntrySize) && i < len(s.samples); i++ {
			s.samples[i].size = int(stsz.EntrySize[i])
		}
	} else {
		for i := range s.samples {
			s.samples[i].size = int(stsz.SampleSize)
		}
	}

	if ctts != nil {
		si := 0
		for ci, entry := range ctts.Entries {
			for i := uint32(0); i < entry.SampleCount && si < len(s.samples); i++ {
				s.samples[si].cts = int64(ctts.GetSampleOffset(ci))
				si++
			}
		}
	}

	// absent stss means every sample is a sync sample
	if stss == nil || !s.Type().IsVideo() {
		for i := range s.samples {
			s.samples[i].sync = true
		}
	} else {
		for _, num := range stss.SampleNumber {
			if i := int(num) - 1; i >= 0 && i < len(s.samples) {
				s.samples[i].sync = true
			}
		}
	}

	var chunkOffsets []int64
	switch {
	case stco != nil:
		for _, off := range stco.ChunkOffset {
			chunkOffsets = append(chunkOffsets, int64(off))
		}
	case co64 != nil:
		for _, off := range co64.ChunkOffset {
			chunkOffsets = append(chunkOffsets, int64(off))
		}
	default:
		return fmt.Errorf("mp4: trak %d missing stco/co64", s.trackID)
	}

	si := 0
	for ci, entry := range stsc.Entries {
		end := len(chunkOffsets)
		if ci+1 < len(stsc.Entries) && int(stsc.Entries[ci+1].FirstChunk)-1 < end {
			end = int(stsc.Entries[ci+1].FirstChunk) - 1
		}
		for chunk := int(entry.FirstChunk) - 1; chunk < end && chunk >= 0; chunk++ {
			off := chunkOffsets[chunk]
			for i := uint32(0); i < entry.SamplesPerChunk && si < len(s.samples); i++ {
				s.samples[si].off = off
				off += int64(s.samples[si].size)
				si++
			}
		}
	}
	if si < len(s.samples) {
		return fmt.Errorf("mp4: trak %d sample index short: %d of %d placed", s.trackID, si, len(s.samples))
	}
	return nil
}

// ReadPacket returns the packet that decodes next across all tracks: the one
// with the smallest decode time in seconds.
func (d *Demuxer) ReadPacket() (pkt av.Packet, err error) {
	if err = d.probe(); err != nil {
		return
	}

	var chosen *Stream
	idx := -1
	for i, stream := range d.streams {
		if stream.exhausted() {
			continue
		}
		if chosen == nil || stream.nextTime() < chosen.nextTime() {
			chosen = stream
			idx = i
		}
	}
	if chosen == nil {
		err = io.EOF
		return
	}

	sm := chosen.samples[chosen.cur]
	data := make([]byte, sm.size)
	if _, err = d.r.Seek(sm.off, io.SeekStart); err != nil {
		return
	}
	if _, err = io.ReadFull(d.r, data); err != nil {
		return
	}
	chosen.cur++

	pkt = av.Packet{
		Idx:        int8(idx),
		IsKeyFrame: sm.sync,
		Pts:        av.NewTimestamp(sm.dts + sm.cts),
		Dts:        av.NewTimestamp(sm.dts),
		Duration:   sm.dur,
		Pos:        sm.off,
		Data:       data,
	}
	return
}

// SeekBackward positions stream idx at or before target ticks, snapping video
// to a sync sample, then pulls every other stream back to that time.
func (d *Demuxer) SeekBackward(idx int8, target int64) (err error) {
	if err = d.probe(); err != nil {
		return
	}
	if int(idx) < 0 || int(idx) >= len(d.streams) {
		return fmt.Errorf("mp4: seek: stream index=%d invalid", idx)
	}

	ref := d.streams[idx]
	if len(ref.samples) == 0 {
		return fmt.Errorf("mp4: seek: stream %d has no samples", idx)
	}
	ref.seekToTicks(target)

	sec := ref.nextTime()
	for _, stream := range d.streams {
		if stream == ref || len(stream.samples) == 0 {
			continue
		}
		stream.seekToTicks(stream.TimeBase.Ticks(sec))
	}
	return
}
