package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// DefaultSampleRate is the output rate of the bundled TTS model.
const DefaultSampleRate = 24000

// WAVHeaderSize is the length of the canonical PCM header written here.
const WAVHeaderSize = 44

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataSize, sampleRate int) wavHeader {
	const (
		channels      = 1
		bitsPerSample = 16
		pcmFormat     = 1
	)
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   pcmFormat,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bitsPerSample / 8),
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// QuantizePCM16 clamps s to [-1,1] and scales it to a signed 16-bit sample.
func QuantizePCM16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		v = 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int16(math.Round(v * math.MaxInt16))
}

// PCM16FromFloat32 converts float samples to little-endian PCM16 bytes.
func PCM16FromFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(QuantizePCM16(s)))
	}
	return out
}

// EncodeWAVFloat32 renders mono float samples as a 16-bit PCM WAV file.
// The output is a pure function of its inputs.
func EncodeWAVFloat32(samples []float32, sampleRate int) ([]byte, error) {
	return EncodeWAVPCM16LE(PCM16FromFloat32(samples), sampleRate)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVFile writes an already encoded WAV payload to path.
func WriteWAVFile(path string, wavBytes []byte) error {
	if _, err := Inspect(bytes.NewReader(wavBytes)); err != nil {
		return err
	}
	return os.WriteFile(path, wavBytes, 0o644)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}

	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Info describes a decoded WAV stream.
type Info struct {
	SampleRate  int
	Channels    int
	BitDepth    int
	SampleCount int
	Duration    time.Duration
}

var ErrInvalidWAV = errors.New("invalid wav file")

// Inspect validates a WAV stream and reports its format and length.
func Inspect(r io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("decode wav: %w", err)
	}
	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if info.Channels > 0 {
		info.SampleCount = len(buf.Data) / info.Channels
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(info.SampleCount) * time.Second / time.Duration(info.SampleRate)
	}
	return info, nil
}
