package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAV header is 44 bytes for standard PCM files.
const WAVHeaderSize = 44

// WAV format codes.
const (
	WAVFormatPCM   = 1
	WAVFormatMuLaw = 7
)

// ErrNotWAV is returned when the RIFF/WAVE magic is missing.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVFormat describes the audio in a WAV file.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Encoding returns the relay encoding name for the format.
func (f WAVFormat) Encoding() string {
	switch f.AudioFormat {
	case WAVFormatMuLaw:
		return "mulaw"
	case WAVFormatPCM:
		return "linear16"
	default:
		return fmt.Sprintf("format-%d", f.AudioFormat)
	}
}

// BytesPerSecond returns the data rate of the format.
func (f WAVFormat) BytesPerSecond() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
}

// ReadWAVHeader reads and validates a canonical 44-byte WAV header.
func ReadWAVHeader(r io.Reader) (WAVFormat, error) {
	header := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAVFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, ErrNotWAV
	}
	return WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}, nil
}
