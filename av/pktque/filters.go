// Package pktque
// Provides packet Filter interface and structures used by other components.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-27
package pktque

import (
	"github.com/teocci/go-trim-av/av"
)

type Filter interface {
	// ModifyPacket changes packet time or drop packet
	ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error)
}

// Filters type combines multiple Filters into one, ModifyPacket will be called in order.
type Filters []Filter

func (f Filters) ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error) {
	for _, filter := range f {
		if drop, err = filter.ModifyPacket(pkt, streams, videoidx, audioidx); err != nil {
			return
		}
		if drop {
			return
		}
	}
	return
}

// FilterDemuxer wraps origin Demuxer and Filter into a new Demuxer, when read this Demuxer filters will be called.
type FilterDemuxer struct {
	av.Demuxer
	Filter   Filter
	streams  []av.Stream
	videoidx int
	audioidx int
}

func (fd *FilterDemuxer) ReadPacket() (pkt av.Packet, err error) {
	if fd.streams == nil {
		if fd.streams, err = fd.Demuxer.Streams(); err != nil {
			return
		}
		fd.videoidx = -1
		fd.audioidx = -1
		for i, stream := range fd.streams {
			if stream.Type().IsVideo() && fd.videoidx < 0 {
				fd.videoidx = i
			} else if stream.Type().IsAudio() && fd.audioidx < 0 {
				fd.audioidx = i
			}
		}
	}

	for {
		if pkt, err = fd.Demuxer.ReadPacket(); err != nil {
			return
		}
		var drop bool
		if drop, err = fd.Filter.ModifyPacket(&pkt, fd.streams, fd.videoidx, fd.audioidx); err != nil {
			return
		}
		if !drop {
			break
		}
	}

	return
}

// WaitKeyFrame drops packets on the reference video stream until its first key
// frame arrived, so output never opens on a non-decodable frame. Audio packets
// are never gated.
type WaitKeyFrame struct {
	ok bool
}

func (wkf *WaitKeyFrame) ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error) {
	if int(pkt.Idx) != videoidx {
		return
	}
	if !wkf.ok && pkt.IsKeyFrame {
		wkf.ok = true
	}
	drop = !wkf.ok
	return
}

// origin holds the set-once rebase origin of one stream. Pts and dts are
// captured independently since a packet may carry one and not the other.
type origin struct {
	pts av.Timestamp
	dts av.Timestamp
}

// Rebase shifts packet timestamps so every stream starts at (or near) zero:
// each stream's first seen pts/dts become that stream's origin and are
// subtracted from all following packets. On the reference video stream the
// rebased dts is additionally forced strictly increasing and pts is clamped to
// never precede dts. Durations are rescaled into DstTimeBase when set, and the
// source byte-offset hint is invalidated.
type Rebase struct {
	// DstTimeBase gives the destination time base per stream; when nil or
	// equal to the source base the duration is kept as-is.
	DstTimeBase []av.Rational

	origins      []origin
	lastVideoDts av.Timestamp
}

func (rb *Rebase) ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error) {
	if rb.origins == nil {
		rb.origins = make([]origin, len(streams))
	}

	o := &rb.origins[pkt.Idx]
	if !o.pts.Known && pkt.Pts.Known {
		o.pts = pkt.Pts
	}
	if !o.dts.Known && pkt.Dts.Known {
		o.dts = pkt.Dts
	}

	if pkt.Pts.Known {
		pkt.Pts.Ticks -= o.pts.Ticks
	}
	if pkt.Dts.Known {
		pkt.Dts.Ticks -= o.dts.Ticks

		if int(pkt.Idx) == videoidx {
			if rb.lastVideoDts.Known && pkt.Dts.Ticks <= rb.lastVideoDts.Ticks {
				pkt.Dts.Ticks = rb.lastVideoDts.Ticks + 1
			}
			rb.lastVideoDts = pkt.Dts
		}
	}

	// presentation may never precede decode
	if int(pkt.Idx) == videoidx && pkt.Pts.Known && pkt.Dts.Known && pkt.Pts.Ticks < pkt.Dts.Ticks {
		pkt.Pts = pkt.Dts
	}

	if rb.DstTimeBase != nil {
		pkt.Duration = av.Rescale(pkt.Duration, streams[pkt.Idx].TimeBase, rb.DstTimeBase[pkt.Idx])
	}
	pkt.Pos = -1

	return
}
