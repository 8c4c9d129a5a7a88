package mkv

import (
	"io"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/av/avutil"
)

func Handler(h *avutil.RegisterHandler) {
	h.Ext = ".mkv"

	h.Probe = func(b []byte) bool {
		// EBML header magic
		return len(b) >= 4 && b[0] == 0x1a && b[1] == 0x45 && b[2] == 0xdf && b[3] == 0xa3
	}

	h.WriterMuxer = func(w io.Writer) av.Muxer {
		return NewMuxer(w)
	}

	h.CodecTypes = CodecTypes
}
