// Package avutil
// Provides the handler registry that maps file extensions to container
// demuxers and muxers, and the open/create helpers built on top of it.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-28
package avutil

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/sunfish-shogi/bufseekio"

	"github.com/teocci/go-trim-av/av"
)

const probeLen = 512

// RegisterHandler describes one container format: how to recognize it and how
// to build its demuxer/muxer on top of a plain file.
type RegisterHandler struct {
	Ext           string
	Probe         func([]byte) bool
	ReaderDemuxer func(io.Reader) av.Demuxer
	WriterMuxer   func(io.Writer) av.Muxer
	CodecTypes    []av.CodecType
}

type Handlers struct {
	handlers []RegisterHandler
}

func (h *Handlers) Add(fn func(*RegisterHandler)) {
	handler := &RegisterHandler{}
	fn(handler)
	h.handlers = append(h.handlers, *handler)
}

var DefaultHandlers = &Handlers{}

func (h *Handlers) findByExt(uri string) (RegisterHandler, bool) {
	ext := path.Ext(uri)
	if ext == "" {
		return RegisterHandler{}, false
	}
	for _, handler := range h.handlers {
		if handler.Ext == ext {
			return handler, true
		}
	}
	return RegisterHandler{}, false
}

type handlerDemuxer struct {
	av.Demuxer
	r      io.Closer
	closed bool
}

func (hd *handlerDemuxer) Close() (err error) {
	if hd.closed {
		return
	}
	hd.closed = true
	return hd.r.Close()
}

type handlerMuxer struct {
	av.Muxer
	w      io.Closer
	closed bool
}

func (hm *handlerMuxer) Close() (err error) {
	if hm.closed {
		return
	}
	hm.closed = true
	return hm.w.Close()
}

// Open opens uri for demuxing, finding the handler by extension with a content
// probe as a cross-check when the handler provides one.
func (h *Handlers) Open(uri string) (demuxer av.DemuxCloser, err error) {
	handler, ok := h.findByExt(uri)
	if !ok || handler.ReaderDemuxer == nil {
		err = fmt.Errorf("avutil: open %s: no demuxer found for this format", uri)
		return
	}

	var f *os.File
	if f, err = os.Open(uri); err != nil {
		return
	}

	if handler.Probe != nil {
		b := make([]byte, probeLen)
		n, _ := io.ReadFull(f, b)
		if !handler.Probe(b[:n]) {
			_ = f.Close()
			err = fmt.Errorf("avutil: open %s: content does not match %s", uri, handler.Ext)
			return
		}
		if _, err = f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return
		}
	}

	r := bufseekio.NewReadSeeker(f, 128*1024, 4)
	demuxer = &handlerDemuxer{
		Demuxer: handler.ReaderDemuxer(r),
		r:       f,
	}
	return
}

// FindCreate creates uri for muxing and reports the matched handler alongside
// the muxer, so callers can inspect the handler's codec support.
func (h *Handlers) FindCreate(uri string) (handler RegisterHandler, muxer av.MuxCloser, err error) {
	var ok bool
	if handler, ok = h.findByExt(uri); !ok || handler.WriterMuxer == nil {
		err = fmt.Errorf("avutil: create %s: no muxer found for this format", uri)
		return
	}

	var f *os.File
	if f, err = os.Create(uri); err != nil {
		return
	}

	muxer = &handlerMuxer{
		Muxer: handler.WriterMuxer(f),
		w:     f,
	}
	return
}

// Create creates uri for muxing.
func (h *Handlers) Create(uri string) (muxer av.MuxCloser, err error) {
	_, muxer, err = h.FindCreate(uri)
	return
}

func Open(uri string) (av.DemuxCloser, error) {
	return DefaultHandlers.Open(uri)
}

func Create(uri string) (av.MuxCloser, error) {
	return DefaultHandlers.Create(uri)
}
