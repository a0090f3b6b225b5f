package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

const (
	// SampleRate is the native output rate of the engine. Nothing is resampled.
	SampleRate = 24000
	BitDepth   = 16
	Channels   = 1
	FormatWAV  = "wav"
	MIMEType   = "audio/wav"
)

// Artifact is an encoded clip ready to be sent to a client.
type Artifact struct {
	Data       []byte
	SampleRate int
	Format     string
}

// ToPCM16 scales amplitudes in [-1, 1] to signed 16 bit samples.
// Out of range input saturates instead of wrapping and NaN maps to silence.
func ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = scale(s)
	}
	return out
}

func scale(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v * math.MaxInt16)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodeWAV renders mono float samples as a PCM16 WAV container.
func EncodeWAV(samples []float32, sampleRate int) (Artifact, error) {
	if sampleRate <= 0 {
		return Artifact{}, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	pcm := ToPCM16(samples)
	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}

	// The encoder seeks back to patch chunk sizes on Close.
	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, BitDepth, Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return Artifact{}, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close wav encoder: %w", err)
	}
	encoded, err := io.ReadAll(ws.BytesReader())
	if err != nil {
		return Artifact{}, fmt.Errorf("read wav: %w", err)
	}
	return Artifact{Data: encoded, SampleRate: sampleRate, Format: FormatWAV}, nil
}

// DecodeWAV reads a PCM WAV container back into integer samples.
func DecodeWAV(data []byte) ([]int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid wav payload")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	return buf.Data, int(dec.SampleRate), nil
}

// FromPCM16LE converts little endian signed 16 bit PCM into amplitudes.
func FromPCM16LE(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("pcm payload not aligned")
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / math.MaxInt16
	}
	return out, nil
}

// FromFloat32LE converts little endian IEEE-754 float32 samples.
func FromFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, errors.New("float32 payload not aligned")
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
