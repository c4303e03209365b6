package audio

import (
	"bytes"
	"encoding/binary"
)

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

// WAV wraps raw samples in a RIFF/WAVE container.
func WAV(data []byte, enc Encoding, sampleRate int) []byte {
	format := uint16(wavFormatPCM)
	bitsPerSample := uint16(16)
	if enc == EncodingMulaw {
		format = wavFormatMulaw
		bitsPerSample = 8
	}
	blockAlign := bitsPerSample / 8
	byteRate := uint32(sampleRate) * uint32(blockAlign)

	var buf bytes.Buffer
	buf.Grow(44 + len(data))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, format)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, bitsPerSample)
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}
