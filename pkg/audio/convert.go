package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
)

// MediaTypePCM is the base media type for raw 16-bit signed little-endian PCM.
// Sample rate and channel count travel as media type parameters, see
// [PCMMediaType].
const MediaTypePCM = "audio/pcm"

// Well-known encoded media types.
const (
	MediaTypeWAV  = "audio/wav"
	MediaTypeMPEG = "audio/mpeg"
	MediaTypeOgg  = "audio/ogg"
	MediaTypeWebM = "audio/webm"
)

// Format describes the sample rate and channel count of raw PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format preferred by speech-to-text services: 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// PCMMediaType returns the media type string describing raw PCM in format f,
// e.g. "audio/pcm; channels=1; rate=16000".
func PCMMediaType(f Format) string {
	return mime.FormatMediaType(MediaTypePCM, map[string]string{
		"rate":     strconv.Itoa(f.SampleRate),
		"channels": strconv.Itoa(f.Channels),
	})
}

// ParsePCMMediaType reports whether mediaType describes raw PCM and, if so,
// the format it carries. Missing parameters default to [SpeechFormat].
func ParsePCMMediaType(mediaType string) (Format, bool) {
	base, params, err := mime.ParseMediaType(mediaType)
	if err != nil || base != MediaTypePCM {
		return Format{}, false
	}
	f := SpeechFormat
	if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
		f.SampleRate = v
	}
	if v, err := strconv.Atoi(params["channels"]); err == nil && v > 0 {
		f.Channels = v
	}
	return f, true
}

// BaseMediaType strips parameters from mediaType. Unparseable input is
// returned unchanged.
func BaseMediaType(mediaType string) string {
	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return mediaType
	}
	return base
}

// ToWAV converts a raw PCM clip into a WAV clip in the target format,
// downmixing and resampling as needed. Clips that are not raw PCM are
// returned unchanged.
func ToWAV(clip Clip, target Format) (Clip, error) {
	src, ok := ParsePCMMediaType(clip.MediaType)
	if !ok {
		return clip, nil
	}
	if len(clip.Data)%2 != 0 {
		return Clip{}, fmt.Errorf("audio: odd byte count %d in 16-bit PCM", len(clip.Data))
	}

	pcm := clip.Data
	if src != target {
		slog.Debug("audio: converting capture format",
			"from", formatString(src),
			"to", formatString(target),
		)
	}
	if src.Channels == 2 && target.Channels == 1 {
		pcm = StereoToMono(pcm)
		src.Channels = 1
	}
	if src.Channels == 1 && src.SampleRate != target.SampleRate {
		pcm = ResampleMono16(pcm, src.SampleRate, target.SampleRate)
		src.SampleRate = target.SampleRate
	}

	wav, err := EncodeWAV(pcm, src)
	if err != nil {
		return Clip{}, err
	}
	return Clip{Data: wav, MediaType: MediaTypeWAV}, nil
}

// StereoToMono averages each interleaved L/R pair of 16-bit little-endian
// samples into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. Equal or invalid rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}
	sample := func(i int) float64 {
		if i >= n {
			i = n - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, m*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func formatString(f Format) string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
