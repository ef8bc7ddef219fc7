package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// WAV container constants.
const (
	wavHeaderSize     = 44
	wavFmtChunkSize   = 16
	wavFormatPCM      = 1
	wavFormatFloat    = 3
	wavFormatExtended = 0xFFFE
	wavBitsPerSample  = 16
	wavChannels       = 1
	pcm16Scale        = 32767.0
	pcm16Divisor      = 32768.0
	pcm24Divisor      = 8388608.0
	pcm32Divisor      = 2147483648.0
	pcm8Offset        = 128.0
)

const (
	errFmtUnsupportedEncoding = "%w: format %d with %d bits per sample"
	errFmtChunk               = "%w: %s"
)

var (
	// ErrInvalidWAV indicates a byte stream that is not a readable RIFF/WAVE file.
	ErrInvalidWAV = errors.New("invalid wav data")
	// ErrUnsupportedEncoding indicates a WAV sample encoding this package cannot decode.
	ErrUnsupportedEncoding = errors.New("unsupported wav encoding")
)

// EncodeWAV serializes the buffer as a 16-bit PCM mono WAV stream. Samples are
// clamped to [-1, 1] before quantization.
func EncodeWAV(buffer SampleBuffer) ([]byte, error) {
	rateErr := buffer.Validate()
	if rateErr != nil {
		return nil, rateErr
	}

	dataSize := len(buffer.Samples) * (wavBitsPerSample / 8)
	blockAlign := wavChannels * (wavBitsPerSample / 8)
	byteRate := buffer.SampleRate * blockAlign

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))

	out.WriteString("RIFF")
	writeLE(out, uint32(36+dataSize))
	out.WriteString("WAVE")

	out.WriteString("fmt ")
	writeLE(out, uint32(wavFmtChunkSize))
	writeLE(out, uint16(wavFormatPCM))
	writeLE(out, uint16(wavChannels))
	writeLE(out, uint32(buffer.SampleRate))
	writeLE(out, uint32(byteRate))
	writeLE(out, uint16(blockAlign))
	writeLE(out, uint16(wavBitsPerSample))

	out.WriteString("data")
	writeLE(out, uint32(dataSize))

	for _, sample := range buffer.Samples {
		writeLE(out, quantize16(sample))
	}

	return out.Bytes(), nil
}

// DecodeWAV parses a RIFF/WAVE stream into a mono buffer. Multi-channel input
// is downmixed by averaging. Supports 8/16/24/32-bit PCM and 32/64-bit float.
func DecodeWAV(data []byte) (SampleBuffer, error) {
	reader := bytes.NewReader(data)

	var riff [12]byte

	_, err := io.ReadFull(reader, riff[:])
	if err != nil || string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return SampleBuffer{}, fmt.Errorf(errFmtChunk, ErrInvalidWAV, "missing RIFF/WAVE header")
	}

	var (
		format       wavFormat
		formatFound  bool
		payload      []byte
		payloadFound bool
		chunkHeader  [8]byte
	)

	for !payloadFound {
		_, err = io.ReadFull(reader, chunkHeader[:])
		if err != nil {
			break
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		if chunkSize < 0 || chunkSize > reader.Len() {
			// Streaming writers leave the data size unset; take what remains.
			chunkSize = reader.Len()
		}

		body := make([]byte, chunkSize)

		_, err = io.ReadFull(reader, body)
		if err != nil {
			return SampleBuffer{}, fmt.Errorf(errFmtChunk, ErrInvalidWAV, "truncated chunk "+chunkID)
		}

		if chunkSize%2 == 1 && reader.Len() > 0 {
			_, _ = reader.ReadByte()
		}

		switch chunkID {
		case "fmt ":
			format, err = parseFormat(body)
			if err != nil {
				return SampleBuffer{}, err
			}

			formatFound = true
		case "data":
			payload = body
			payloadFound = true
		}
	}

	if !formatFound || !payloadFound {
		return SampleBuffer{}, fmt.Errorf(errFmtChunk, ErrInvalidWAV, "missing fmt or data chunk")
	}

	samples, err := decodeSamples(format, payload)
	if err != nil {
		return SampleBuffer{}, err
	}

	buffer := SampleBuffer{Samples: samples, SampleRate: format.sampleRate}

	return buffer, buffer.Validate()
}

type wavFormat struct {
	encoding      int
	channels      int
	sampleRate    int
	bitsPerSample int
}

func parseFormat(body []byte) (wavFormat, error) {
	if len(body) < wavFmtChunkSize {
		return wavFormat{}, fmt.Errorf(errFmtChunk, ErrInvalidWAV, "short fmt chunk")
	}

	format := wavFormat{
		encoding:      int(binary.LittleEndian.Uint16(body[0:2])),
		channels:      int(binary.LittleEndian.Uint16(body[2:4])),
		sampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
		bitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
	}

	// WAVE_FORMAT_EXTENSIBLE stores the real format tag at the head of the sub-format GUID.
	if format.encoding == wavFormatExtended && len(body) >= 26 {
		format.encoding = int(binary.LittleEndian.Uint16(body[24:26]))
	}

	if format.channels <= 0 {
		return wavFormat{}, fmt.Errorf(errFmtChunk, ErrInvalidWAV, "zero channels")
	}

	return format, nil
}

func decodeSamples(format wavFormat, payload []byte) ([]float32, error) {
	bytesPerSample := format.bitsPerSample / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf(errFmtUnsupportedEncoding, ErrUnsupportedEncoding, format.encoding, format.bitsPerSample)
	}

	decode, err := sampleDecoder(format)
	if err != nil {
		return nil, err
	}

	frameSize := bytesPerSample * format.channels
	frames := len(payload) / frameSize
	samples := make([]float32, frames)

	for frame := range frames {
		var sum float64

		base := frame * frameSize
		for channel := range format.channels {
			offset := base + channel*bytesPerSample
			sum += decode(payload[offset : offset+bytesPerSample])
		}

		samples[frame] = float32(sum / float64(format.channels))
	}

	return samples, nil
}

func sampleDecoder(format wavFormat) (func([]byte) float64, error) {
	switch {
	case format.encoding == wavFormatPCM && format.bitsPerSample == 8:
		return func(raw []byte) float64 { return (float64(raw[0]) - pcm8Offset) / pcm8Offset }, nil
	case format.encoding == wavFormatPCM && format.bitsPerSample == 16:
		return func(raw []byte) float64 {
			return float64(int16(binary.LittleEndian.Uint16(raw))) / pcm16Divisor
		}, nil
	case format.encoding == wavFormatPCM && format.bitsPerSample == 24:
		return func(raw []byte) float64 {
			value := int32(raw[0]) | int32(raw[1])<<8 | int32(int8(raw[2]))<<16

			return float64(value) / pcm24Divisor
		}, nil
	case format.encoding == wavFormatPCM && format.bitsPerSample == 32:
		return func(raw []byte) float64 {
			return float64(int32(binary.LittleEndian.Uint32(raw))) / pcm32Divisor
		}, nil
	case format.encoding == wavFormatFloat && format.bitsPerSample == 32:
		return func(raw []byte) float64 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
		}, nil
	case format.encoding == wavFormatFloat && format.bitsPerSample == 64:
		return func(raw []byte) float64 {
			return math.Float64frombits(binary.LittleEndian.Uint64(raw))
		}, nil
	default:
		return nil, fmt.Errorf(errFmtUnsupportedEncoding, ErrUnsupportedEncoding, format.encoding, format.bitsPerSample)
	}
}

func quantize16(sample float32) int16 {
	clamped := math.Max(-1, math.Min(1, float64(sample)))

	return int16(math.Round(clamped * pcm16Scale))
}

// writeLE appends a fixed-size little-endian value; bytes.Buffer writes never fail.
func writeLE(out *bytes.Buffer, value any) {
	_ = binary.Write(out, binary.LittleEndian, value)
}
