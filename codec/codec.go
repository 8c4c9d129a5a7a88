// Package codec
// Carries the decoder initialization parameters copied between containers:
// the H264 AVCDecoderConfigurationRecord and the AAC AudioSpecificConfig.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-28
package codec

import (
	"fmt"

	"github.com/teocci/go-trim-av/av"
)

var aacSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
	0, 0, 0,
}

// H264CodecData wraps an AVCDecoderConfigurationRecord together with the
// display size from the sample entry it was found in.
type H264CodecData struct {
	Record     []byte // raw AVCDecoderConfigurationRecord
	SPS        []byte // first sequence parameter set in Record
	PPS        []byte // first picture parameter set in Record
	LengthSize int    // NALU length prefix size in samples, 1/2/4
	W, H       int
}

// NewH264CodecDataFromRecord splits the SPS/PPS out of a raw
// AVCDecoderConfigurationRecord.
func NewH264CodecDataFromRecord(record []byte, width, height int) (cd H264CodecData, err error) {
	if len(record) < 7 || record[0] != 1 {
		err = fmt.Errorf("codec: h264: AVCDecoderConfRecord invalid")
		return
	}
	cd.Record = record
	cd.LengthSize = int(record[4]&0x03) + 1
	cd.W, cd.H = width, height

	pos := 5
	spsCount := int(record[pos] & 0x1f)
	pos++
	for i := 0; i < spsCount; i++ {
		if pos+2 > len(record) {
			err = fmt.Errorf("codec: h264: AVCDecoderConfRecord truncated in SPS")
			return
		}
		n := int(record[pos])<<8 | int(record[pos+1])
		pos += 2
		if pos+n > len(record) {
			err = fmt.Errorf("codec: h264: AVCDecoderConfRecord truncated in SPS")
			return
		}
		if cd.SPS == nil {
			cd.SPS = record[pos : pos+n]
		}
		pos += n
	}
	if pos >= len(record) {
		err = fmt.Errorf("codec: h264: AVCDecoderConfRecord missing PPS")
		return
	}
	ppsCount := int(record[pos])
	pos++
	for i := 0; i < ppsCount; i++ {
		if pos+2 > len(record) {
			err = fmt.Errorf("codec: h264: AVCDecoderConfRecord truncated in PPS")
			return
		}
		n := int(record[pos])<<8 | int(record[pos+1])
		pos += 2
		if pos+n > len(record) {
			err = fmt.Errorf("codec: h264: AVCDecoderConfRecord truncated in PPS")
			return
		}
		if cd.PPS == nil {
			cd.PPS = record[pos : pos+n]
		}
		pos += n
	}
	return
}

func (cd H264CodecData) Type() av.CodecType {
	return av.H264
}

func (cd H264CodecData) Width() int {
	return cd.W
}

func (cd H264CodecData) Height() int {
	return cd.H
}

// AVCDecoderConfRecordBytes returns the record exactly as read from the source.
func (cd H264CodecData) AVCDecoderConfRecordBytes() []byte {
	return cd.Record
}

// AACCodecData wraps an MPEG-4 AudioSpecificConfig. ESDS keeps the raw esds
// box payload of the source when available so it can be copied verbatim on
// remux.
type AACCodecData struct {
	Config     []byte // raw AudioSpecificConfig
	ESDS       []byte // raw esds payload from the source, optional
	ObjectType int
	FreqIndex  int
	Rate       int
	Channels   int
}

// NewAACCodecDataFromConfig parses the fixed leading fields of an
// AudioSpecificConfig.
func NewAACCodecDataFromConfig(config []byte) (cd AACCodecData, err error) {
	if len(config) < 2 {
		err = fmt.Errorf("codec: aac: AudioSpecificConfig invalid")
		return
	}
	cd.Config = config
	cd.ObjectType = int(config[0] >> 3)
	cd.FreqIndex = int(config[0]&0x07)<<1 | int(config[1]>>7)
	cd.Channels = int(config[1] >> 3 & 0x0f)
	if cd.ObjectType == 31 || cd.FreqIndex == 15 {
		err = fmt.Errorf("codec: aac: escaped AudioSpecificConfig fields are not supported")
		return
	}
	cd.Rate = aacSampleRates[cd.FreqIndex]
	if cd.Rate == 0 {
		err = fmt.Errorf("codec: aac: sampling frequency index=%d invalid", cd.FreqIndex)
		return
	}
	return
}

func (cd AACCodecData) Type() av.CodecType {
	return av.AAC
}

func (cd AACCodecData) SampleRate() int {
	return cd.Rate
}

func (cd AACCodecData) ChannelLayout() av.ChannelLayout {
	return av.MakeChannelLayout(cd.Channels)
}

func (cd AACCodecData) SampleFormat() av.SampleFormat {
	return av.FLTP
}

const ADTSHeaderLength = 7

// FillADTSHeader writes the 7-byte ADTS header framing a raw AAC payload of
// the given size.
func (cd AACCodecData) FillADTSHeader(h []byte, payloadLen int) {
	frameLen := payloadLen + ADTSHeaderLength
	profile := cd.ObjectType - 1

	h[0] = 0xff
	h[1] = 0xf1 // MPEG-4, layer 0, no CRC
	h[2] = byte(profile&3)<<6 | byte(cd.FreqIndex&0xf)<<2 | byte(cd.Channels>>2&1)
	h[3] = byte(cd.Channels&3)<<6 | byte(frameLen>>11&0x3)
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen&0x7)<<5 | 0x1f
	h[6] = 0xfc
}
