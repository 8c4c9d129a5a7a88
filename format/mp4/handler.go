package mp4

import (
	"io"

	"github.com/teocci/go-trim-av/av"
	"github.com/teocci/go-trim-av/av/avutil"
)

// Handler registers the MP4 format. Demuxing needs a seekable source and
// muxing a seekable sink, both satisfied by the file handles avutil opens.
func Handler(h *avutil.RegisterHandler) {
	h.Ext = ".mp4"
	h.Probe = func(b []byte) bool {
		return len(b) >= 8 && b[4] == 'f' && b[5] == 't' && b[6] == 'y' && b[7] == 'p'
	}
	h.ReaderDemuxer = func(r io.Reader) av.Demuxer {
		return NewDemuxer(r.(io.ReadSeeker))
	}
	h.WriterMuxer = func(w io.Writer) av.Muxer {
		return NewMuxer(w.(io.WriteSeeker))
	}
	h.CodecTypes = []av.CodecType{av.H264, av.AAC}
}
