// Package mp4
// Progressive MP4 demuxing and muxing for stream copy, built on the box
// reader/writer of github.com/abema/go-mp4.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package mp4

import (
	"github.com/teocci/go-trim-av/av"
)

// sample is one entry of the flattened sample index: where the payload lives
// and when it plays.
type sample struct {
	off  int64
	size int
	dts  int64
	cts  int64
	dur  int64
	sync bool
}

// Stream is the per-track state shared by Demuxer and Muxer: codec
// parameters, time base and the flat sample index.
type Stream struct {
	av.Stream

	trackID   uint32
	timeScale uint32

	// raw configuration payloads carried through on remux
	avcc []byte
	esds []byte

	samples []sample
	cur     int

	demuxer *Demuxer
	muxer   *Muxer
}

func (s *Stream) exhausted() bool {
	return s.cur >= len(s.samples)
}

// nextTime reports the decode time of the next unread sample in seconds.
func (s *Stream) nextTime() float64 {
	return s.TimeBase.Seconds(s.samples[s.cur].dts)
}

// seekToTicks moves the read cursor to the last sample with dts at or before
// target, snapping video further back to the nearest preceding sync sample.
func (s *Stream) seekToTicks(target int64) {
	i := 0
	for i+1 < len(s.samples) && s.samples[i+1].dts <= target {
		i++
	}
	if s.Type().IsVideo() {
		for i > 0 && !s.samples[i].sync {
			i--
		}
	}
	s.cur = i
}

// duration reports the total media duration in the stream time base.
func (s *Stream) duration() int64 {
	if len(s.samples) == 0 {
		return 0
	}
	last := s.samples[len(s.samples)-1]
	return last.dts + last.dur
}
