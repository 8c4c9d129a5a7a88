package avutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teocci/go-trim-av/av"
)

type nopDemuxer struct{}

func (nopDemuxer) Streams() ([]av.Stream, error) { return nil, nil }
func (nopDemuxer) ReadPacket() (av.Packet, error) {
	return av.Packet{}, io.EOF
}

type nopMuxer struct{}

func (nopMuxer) WriteHeader([]av.Stream) error { return nil }
func (nopMuxer) WritePacket(av.Packet) error   { return nil }
func (nopMuxer) WriteTrailer() error           { return nil }

func testHandlers() *Handlers {
	h := &Handlers{}
	h.Add(func(handler *RegisterHandler) {
		handler.Ext = ".fake"
		handler.Probe = func(b []byte) bool {
			return len(b) >= 2 && b[0] == 'O' && b[1] == 'K'
		}
		handler.ReaderDemuxer = func(io.Reader) av.Demuxer { return nopDemuxer{} }
		handler.WriterMuxer = func(io.Writer) av.Muxer { return nopMuxer{} }
	})
	return h
}

func TestOpenMatchesExtensionAndContent(t *testing.T) {
	h := testHandlers()
	dir := t.TempDir()

	path := filepath.Join(dir, "a.fake")
	require.NoError(t, os.WriteFile(path, []byte("OK data"), 0644))

	demuxer, err := h.Open(path)
	require.NoError(t, err)
	require.NoError(t, demuxer.Close())
	assert.NoError(t, demuxer.Close(), "close is idempotent")
}

func TestOpenRejectsMismatchedContent(t *testing.T) {
	h := testHandlers()
	path := filepath.Join(t.TempDir(), "b.fake")
	require.NoError(t, os.WriteFile(path, []byte("XX data"), 0644))

	_, err := h.Open(path)
	assert.Error(t, err)
}

func TestOpenUnknownExtension(t *testing.T) {
	h := testHandlers()
	path := filepath.Join(t.TempDir(), "c.zzz")
	require.NoError(t, os.WriteFile(path, []byte("OK"), 0644))

	_, err := h.Open(path)
	assert.Error(t, err)
}

func TestFindCreateReportsHandler(t *testing.T) {
	h := testHandlers()
	path := filepath.Join(t.TempDir(), "d.fake")

	handler, muxer, err := h.FindCreate(path)
	require.NoError(t, err)
	assert.Equal(t, ".fake", handler.Ext)
	require.NoError(t, muxer.Close())
	assert.NoError(t, muxer.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCreateUnknownExtension(t *testing.T) {
	h := testHandlers()
	_, err := h.Create(filepath.Join(t.TempDir(), "e.zzz"))
	assert.Error(t, err)
}
