package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// ErrNotWAV is returned by [DecodeWAV] when data does not carry a RIFF/WAVE
// header or has no sample data.
var ErrNotWAV = errors.New("audio: not a WAV file")

// EncodeWAV wraps 16-bit little-endian PCM in a WAV container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("audio: cannot encode empty PCM")
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid PCM format %+v", f)
	}

	const bitsPerSample = 16
	blockAlign := uint16(f.Channels * bitsPerSample / 8)
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("audio: write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM WAV file and returns its format and sample
// data. Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped, so
// files written by TTS servers that tag their output decode as well.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	le := binary.LittleEndian
	var (
		f      Format
		hasFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(le.Uint32(data[off+4 : off+8]))
		body := data[off+8:]

		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return Format{}, nil, fmt.Errorf("audio: short WAV fmt chunk (%d bytes)", size)
			}
			if codec, bits := le.Uint16(body[0:2]), le.Uint16(body[14:16]); codec != 1 || bits != 16 {
				return Format{}, nil, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", codec, bits)
			}
			f = Format{
				SampleRate: int(le.Uint32(body[4:8])),
				Channels:   int(le.Uint16(body[2:4])),
			}
			hasFmt = true
		case "data":
			if !hasFmt {
				return Format{}, nil, errors.New("audio: WAV data chunk before fmt chunk")
			}
			// Streaming writers leave the size at 0 or 0xFFFFFFFF.
			if size > 0 && size < len(body) {
				body = body[:size]
			}
			return f, body, nil
		}

		off += 8 + size + size%2
	}
	return Format{}, nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// PCMDuration returns the playback length of n bytes of 16-bit PCM in f.
func PCMDuration(n int, f Format) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / (2 * f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// DetectMediaType sniffs the container of an encoded audio payload from its
// magic bytes. It returns "" when the format is not recognised.
func DetectMediaType(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MediaTypeWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return MediaTypeMPEG
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MediaTypeMPEG
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return MediaTypeOgg
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return MediaTypeWebM
	}
	return ""
}
