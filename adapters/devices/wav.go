package devices

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	resampling "github.com/tphakala/go-audio-resampling"
)

const wavHeaderSize = 44

// pcmAudio is decoded 16-bit little-endian PCM
type pcmAudio struct {
	data       []byte
	sampleRate int
	channels   int
}

// readPCM loads a WAV file, or a headerless PCM file assumed to be in the
// fallback rate and mono
func readPCM(path string, fallbackRate int) (pcmAudio, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return pcmAudio{}, err
	}

	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return pcmAudio{data: raw[:len(raw)&^1], sampleRate: fallbackRate, channels: 1}, nil
	}

	audio := pcmAudio{}
	var bits int
	for off := 12; off+8 <= len(raw); {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		end := min(body+size, len(raw))

		switch id {
		case "fmt ":
			if end-body < 16 {
				return pcmAudio{}, fmt.Errorf("malformed fmt chunk in %s", path)
			}
			if format := binary.LittleEndian.Uint16(raw[body:]); format != 1 {
				return pcmAudio{}, fmt.Errorf("unsupported WAV format %d in %s", format, path)
			}
			audio.channels = int(binary.LittleEndian.Uint16(raw[body+2:]))
			audio.sampleRate = int(binary.LittleEndian.Uint32(raw[body+4:]))
			bits = int(binary.LittleEndian.Uint16(raw[body+14:]))
		case "data":
			audio.data = raw[body:end]
		}

		// chunks are word aligned
		off = body + size + size&1
	}

	if bits != 16 {
		return pcmAudio{}, fmt.Errorf("unsupported WAV bit depth %d in %s", bits, path)
	}
	if audio.data == nil {
		return pcmAudio{}, fmt.Errorf("no data chunk in %s", path)
	}
	return audio, nil
}

// toMono averages interleaved channels
func toMono(a pcmAudio) pcmAudio {
	if a.channels <= 1 {
		return a
	}
	frameBytes := a.channels * 2
	frames := len(a.data) / frameBytes
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < a.channels; ch++ {
			sum += int32(int16(binary.LittleEndian.Uint16(a.data[i*frameBytes+ch*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(a.channels))))
	}
	return pcmAudio{data: out, sampleRate: a.sampleRate, channels: 1}
}

// resample converts mono PCM to the target rate
func resample(a pcmAudio, rate int) (pcmAudio, error) {
	if a.sampleRate == rate {
		return a, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(a.sampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return pcmAudio{}, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(a.data)/2)
	for i := range input {
		input[i] = float64(int16(binary.LittleEndian.Uint16(a.data[i*2:]))) / 32768.0
	}

	output, err := r.Process(input)
	if err != nil {
		return pcmAudio{}, fmt.Errorf("resample error: %w", err)
	}

	out := make([]byte, len(output)*2)
	for i, s := range output {
		sample := int16(s * 32767.0)
		if s > 1.0 {
			sample = 32767
		} else if s < -1.0 {
			sample = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return pcmAudio{data: out, sampleRate: rate, channels: 1}, nil
}

// writeWAVHeader writes a 16-bit PCM header for dataLen bytes of audio
func writeWAVHeader(w io.Writer, sampleRate, channels, dataLen int) error {
	var h bytes.Buffer
	h.WriteString("RIFF")
	binary.Write(&h, binary.LittleEndian, uint32(36+dataLen))
	h.WriteString("WAVEfmt ")
	binary.Write(&h, binary.LittleEndian, uint32(16))
	binary.Write(&h, binary.LittleEndian, uint16(1))
	binary.Write(&h, binary.LittleEndian, uint16(channels))
	binary.Write(&h, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&h, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&h, binary.LittleEndian, uint16(channels*2))
	binary.Write(&h, binary.LittleEndian, uint16(16))
	h.WriteString("data")
	binary.Write(&h, binary.LittleEndian, uint32(dataLen))

	_, err := w.Write(h.Bytes())
	return err
}
