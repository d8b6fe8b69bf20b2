package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"whisperpad/internal/domain"
)

// segmentWriter streams PCM into one WAV segment file.
type segmentWriter struct {
	path string
	file *os.File
	enc  *wav.Encoder
}

func newSegmentWriter(path string, sampleRate int, channels int) (*segmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create segment: %w", err)
	}
	return &segmentWriter{
		path: path,
		file: f,
		enc:  wav.NewEncoder(f, sampleRate, 16, channels, 1),
	}, nil
}

func (w *segmentWriter) writePCM(pcm []byte, sampleRate int, channels int) error {
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		Data:           pcmToInts(pcm),
		SourceBitDepth: 16,
	}
	return w.enc.Write(buf)
}

func (w *segmentWriter) close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return encErr
	}
	return fileErr
}

// MergeSegments concatenates the segment files into outPath. Unreadable
// segments are skipped and counted; the result is partial, not failed, as
// long as at least one segment survives.
func MergeSegments(paths []string, outPath string) (domain.SegmentMergeResult, error) {
	total := len(paths)
	var (
		format   *gaudio.Format
		bitDepth = 16
		samples  []int
		used     int
	)

	for _, path := range paths {
		buf, depth, err := readSegment(path)
		if err != nil {
			continue
		}
		if format == nil {
			format = buf.Format
			bitDepth = depth
		}
		samples = append(samples, buf.Data...)
		used++
	}

	if used == 0 {
		return domain.SegmentMergeResult{TotalSegments: total}, errors.New("audio: no usable segments")
	}

	out, err := os.Create(outPath)
	if err != nil {
		return domain.SegmentMergeResult{TotalSegments: total}, fmt.Errorf("audio: create output: %w", err)
	}
	enc := wav.NewEncoder(out, format.SampleRate, bitDepth, format.NumChannels, 1)
	writeErr := enc.Write(&gaudio.IntBuffer{Format: format, Data: samples, SourceBitDepth: bitDepth})
	closeErr := enc.Close()
	fileErr := out.Close()
	if writeErr != nil {
		return domain.SegmentMergeResult{TotalSegments: total}, fmt.Errorf("audio: write output: %w", writeErr)
	}
	if closeErr != nil {
		return domain.SegmentMergeResult{TotalSegments: total}, fmt.Errorf("audio: finalize output: %w", closeErr)
	}
	if fileErr != nil {
		return domain.SegmentMergeResult{TotalSegments: total}, fmt.Errorf("audio: close output: %w", fileErr)
	}

	return domain.SegmentMergeResult{
		OutputPath:    outPath,
		IsPartial:     used < total,
		UsedSegments:  used,
		TotalSegments: total,
	}, nil
}

func readSegment(path string) (*gaudio.IntBuffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || len(buf.Data) == 0 || buf.Format == nil {
		return nil, 0, errors.New("audio: empty segment")
	}
	return buf, int(dec.BitDepth), nil
}

func pcmToInts(pcm []byte) []int {
	out := make([]int, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		out = append(out, int(int16(binary.LittleEndian.Uint16(pcm[i:i+2]))))
	}
	return out
}
