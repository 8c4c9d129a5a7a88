package ts

import (
	"io"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/av/avutil"
)

func Handler(h *avutil.RegisterHandler) {
	h.Ext = ".ts"

	h.Probe = func(b []byte) bool {
		return len(b) > 188 && b[0] == 0x47 && b[188] == 0x47
	}

	h.WriterMuxer = func(w io.Writer) av.Muxer {
		return NewMuxer(w)
	}

	h.CodecTypes = CodecTypes
}
