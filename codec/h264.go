package codec

import "fmt"

var annexbStartCode = []byte{0, 0, 0, 1}

// WalkNALUs calls fn for every NALU in a length-prefixed H264 sample.
func WalkNALUs(sample []byte, lengthSize int, fn func(nalu []byte)) error {
	if lengthSize < 1 || lengthSize > 4 {
		return fmt.Errorf("codec: h264: NALU length size=%d invalid", lengthSize)
	}
	for pos := 0; pos < len(sample); {
		if pos+lengthSize > len(sample) {
			return fmt.Errorf("codec: h264: sample truncated in NALU length")
		}
		n := 0
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(sample[pos+i])
		}
		pos += lengthSize
		if n < 0 || pos+n > len(sample) {
			return fmt.Errorf("codec: h264: sample truncated in NALU body")
		}
		fn(sample[pos : pos+n])
		pos += n
	}
	return nil
}

// AVCCToAnnexB rewrites a length-prefixed sample into Annex B byte-stream
// format, prepending SPS and PPS when wanted. Keyframe samples in a transport
// stream need the parameter sets inline to stay decodable from that point.
func AVCCToAnnexB(sample []byte, lengthSize int, sps, pps []byte) (out []byte, err error) {
	out = make([]byte, 0, len(sample)+len(sps)+len(pps)+16)
	if len(sps) > 0 {
		out = append(out, annexbStartCode...)
		out = append(out, sps...)
	}
	if len(pps) > 0 {
		out = append(out, annexbStartCode...)
		out = append(out, pps...)
	}
	err = WalkNALUs(sample, lengthSize, func(nalu []byte) {
		out = append(out, annexbStartCode...)
		out = append(out, nalu...)
	})
	if err != nil {
		out = nil
	}
	return
}
