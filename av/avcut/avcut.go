// Package avcut
// Implements the time-window extraction engine: seek the source near the
// window start, drop packets outside the window, gate leading video on the
// first key frame, rebase timestamps to zero and copy the packets into a new
// container without touching the compressed payload.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-28
package avcut

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/av/avutil"
	"github.com/teocci/go-trim-av/av/pktque"
)

var (
	ErrInvalidWindow     = errors.New("avcut: invalid window, start must be before end")
	ErrMalformedTime     = errors.New("avcut: malformed time mark, want mm:ss")
	ErrMissingPath       = errors.New("avcut: input and output paths are required")
	ErrNoStreams         = errors.New("avcut: no audio or video streams in input")
	ErrNoVideoRef        = errors.New("avcut: no video stream to use as seek reference")
	ErrCodecNotSupported = errors.New("avcut: codec not supported by output format")
)

// Window is the extraction window in whole seconds, [Start, End).
type Window struct {
	Start int64
	End   int64
}

func (w Window) Valid() bool {
	return w.Start >= 0 && w.Start < w.End
}

func (w Window) String() string {
	return fmt.Sprintf("%s-%s", FormatMark(w.Start), FormatMark(w.End))
}

// ParseMark converts a "mm:ss" time mark into seconds. Parsing is pure and
// touches no resources.
func ParseMark(s string) (sec int64, err error) {
	var m, ss int64
	n, _ := fmt.Sscanf(s, "%d:%d", &m, &ss)
	if n != 2 || m < 0 || ss < 0 {
		err = errors.Wrapf(ErrMalformedTime, "parse %q", s)
		return
	}
	sec = m*60 + ss
	return
}

// FormatMark renders seconds back into the "mm:ss" form ParseMark accepts.
func FormatMark(sec int64) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}

// refIndexes reports the first video and first audio stream indexes. The
// first video stream is the seek and decode-order reference; without one the
// seek target cannot be expressed and the session is rejected.
func refIndexes(streams []av.Stream) (videoidx, audioidx int, err error) {
	videoidx, audioidx = -1, -1
	if len(streams) == 0 {
		err = ErrNoStreams
		return
	}
	for i, stream := range streams {
		if stream.Type().IsVideo() && videoidx < 0 {
			videoidx = i
		} else if stream.Type().IsAudio() && audioidx < 0 {
			audioidx = i
		}
	}
	if videoidx < 0 {
		err = ErrNoVideoRef
	}
	return
}

type cutState int

const (
	stateSeekingKeyframe cutState = iota
	stateStreaming
	stateDone
)

// errWindowEnd stops the read loop once a packet at or past the window end
// shows up, the way io.EOF stops it at the end of the source.
var errWindowEnd = errors.New("avcut: window end reached")

// windowFilter drops packets outside [start, end), classifying each by its
// presentation time in seconds (pts, falling back to dts). Packets with no
// timestamp at all pass only once the window has been entered.
type windowFilter struct {
	start   float64
	end     float64
	entered bool
}

func (wf *windowFilter) ModifyPacket(pkt *av.Packet, streams []av.Stream, videoidx int, audioidx int) (drop bool, err error) {
	if int(pkt.Idx) < 0 || int(pkt.Idx) >= len(streams) {
		drop = true
		return
	}
	t, known := pkt.Time(streams[pkt.Idx].TimeBase)
	switch {
	case known && t >= wf.end:
		err = errWindowEnd
	case known && t < wf.start:
		drop = true
	case !known && !wf.entered:
		drop = true
	default:
		wf.entered = true
	}
	return
}

// Cutter copies the packets of one window from Demuxer to Muxer. The caller
// owns both ends; Cutter never opens or closes anything.
type Cutter struct {
	Window  Window
	Demuxer av.Demuxer
	Muxer   av.Muxer
	Log     *logrus.Entry

	streams  []av.Stream
	videoidx int
	audioidx int
	state    cutState
	written  int
}

// Run performs one trimming session: header, seek, copy loop, trailer. The
// trailer is attempted even when the copy loop failed, so the output is never
// left without one when a header was already written.
func (c *Cutter) Run() (err error) {
	if !c.Window.Valid() {
		return errors.Wrapf(ErrInvalidWindow, "window %v", c.Window)
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	if c.streams, err = c.Demuxer.Streams(); err != nil {
		return errors.Wrap(err, "avcut: read streams")
	}
	if c.videoidx, c.audioidx, err = refIndexes(c.streams); err != nil {
		return
	}

	if err = c.Muxer.WriteHeader(c.streams); err != nil {
		return errors.Wrap(err, "avcut: write header")
	}

	if seeker, ok := c.Demuxer.(av.Seeker); ok {
		target := c.streams[c.videoidx].TimeBase.Ticks(float64(c.Window.Start))
		if err = seeker.SeekBackward(int8(c.videoidx), target); err != nil {
			return errors.Wrap(err, "avcut: seek")
		}
	}

	loopErr := c.copy()
	trailerErr := c.Muxer.WriteTrailer()

	c.Log.WithField("packets", c.written).Debug("trim session finished")
	if loopErr != nil {
		return loopErr
	}
	if trailerErr != nil {
		return errors.Wrap(trailerErr, "avcut: write trailer")
	}
	return
}

func (c *Cutter) copy() (err error) {
	fd := pktque.FilterDemuxer{
		Demuxer: c.Demuxer,
		Filter: pktque.Filters{
			&windowFilter{start: float64(c.Window.Start), end: float64(c.Window.End)},
			&pktque.WaitKeyFrame{},
			&pktque.Rebase{},
		},
	}

	c.state = stateSeekingKeyframe
	for c.state != stateDone {
		var pkt av.Packet
		if pkt, err = fd.ReadPacket(); err != nil {
			if err == io.EOF || err == errWindowEnd {
				err = nil
			} else {
				err = errors.Wrap(err, "avcut: read packet")
			}
			c.state = stateDone
			continue
		}
		if c.state == stateSeekingKeyframe {
			c.state = stateStreaming
		}

		if werr := c.Muxer.WritePacket(pkt); werr != nil {
			c.Log.WithError(werr).Error("packet write failed, finalizing what was written")
			err = errors.Wrap(werr, "avcut: write packet")
			c.state = stateDone
			continue
		}
		c.written++
	}
	return
}

func codecSupported(types []av.CodecType, ct av.CodecType) bool {
	if types == nil {
		return true
	}
	for _, t := range types {
		if t == ct {
			return true
		}
	}
	return false
}

// Cut trims input into output, keeping only the given window. The input is
// opened before the output is ever created, so a missing source leaves no
// half-written sink behind.
func Cut(input, output string, window Window) (err error) {
	if input == "" || output == "" {
		return ErrMissingPath
	}
	if !window.Valid() {
		return errors.Wrapf(ErrInvalidWindow, "window %v", window)
	}

	log := logrus.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"input":   input,
		"output":  output,
		"window":  window.String(),
	})
	log.Debug("opening source")

	var src av.DemuxCloser
	if src, err = avutil.Open(input); err != nil {
		return errors.Wrap(err, "avcut: open input")
	}
	defer src.Close()

	var streams []av.Stream
	if streams, err = src.Streams(); err != nil {
		return errors.Wrap(err, "avcut: read streams")
	}
	if _, _, err = refIndexes(streams); err != nil {
		return
	}

	handler, dst, err := avutil.DefaultHandlers.FindCreate(output)
	if err != nil {
		return errors.Wrap(err, "avcut: create output")
	}
	defer dst.Close()

	for _, stream := range streams {
		if !codecSupported(handler.CodecTypes, stream.Type()) {
			return errors.Wrapf(ErrCodecNotSupported, "%v into %s", stream.Type(), handler.Ext)
		}
	}

	cutter := &Cutter{Window: window, Demuxer: src, Muxer: dst, Log: log}
	if err = cutter.Run(); err != nil {
		return
	}

	log.Infof("trimmed %s from %s", window.String(), input)
	return
}
