// Package decode implements the decode command, which renders the first
// audio stream of a file to 16-bit WAV.
package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
	"github.com/tphakala/mediacore/internal/pipeline"
)

var (
	outputPath string
	startMs    uint64
	maxSeconds float64
)

// Summary reports what Render wrote.
type Summary struct {
	Frames     uint64
	Samples    uint64 // per channel
	SampleRate uint32
	Channels   uint16
	Elapsed    time.Duration

	// DecodeErrors counts recoverable errors recorded while rendering.
	DecodeErrors uint64
}

// Realtime returns the decode speed as a multiple of playback speed.
func (s Summary) Realtime() float64 {
	if s.SampleRate == 0 || s.Elapsed <= 0 {
		return 0
	}
	audioSecs := float64(s.Samples) / float64(s.SampleRate)
	return audioSecs / s.Elapsed.Seconds()
}

// Command creates the decode command.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [input]",
		Short: "Decode an audio file to WAV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputPath
			if out == "" {
				out = args[0] + ".wav"
			}
			return run(cmd, rt, args[0], out)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output WAV path (default: input path with .wav appended)")
	cmd.Flags().Uint64Var(&startMs, "start", 0, "start position in milliseconds")
	cmd.Flags().Float64Var(&maxSeconds, "duration", 0, "stop after this many seconds of audio (0 = whole stream)")

	return cmd
}

func run(cmd *cobra.Command, rt *app.Runtime, in, out string) error {
	s, err := pipeline.Open(in, rt.Deps)
	if err != nil {
		return err
	}
	defer s.Close()

	if startMs > 0 {
		if err := s.SeekTo(startMs); err != nil {
			return err
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return errors.New(err).
			Component("decode").
			Category(errors.CategoryFileIO).
			Context("path", out).
			Build()
	}

	info := s.Info()
	limit := uint64(maxSeconds * float64(info.SampleRate))
	errsBefore := decodeErrors(rt)
	sum, renderErr := Render(s, f, limit)
	sum.DecodeErrors = decodeErrors(rt) - errsBefore
	if closeErr := f.Close(); renderErr == nil {
		renderErr = closeErr
	}
	if renderErr != nil {
		_ = os.Remove(out)
		return renderErr
	}

	logger.Global().Module("decode").Info("decode complete",
		logger.String("input", in),
		logger.String("output", out),
		logger.String("codec", s.CodecName()),
		logger.Uint64("samples", sum.Samples),
		logger.Duration("elapsed", sum.Elapsed),
		logger.Uint64("decode_errors", sum.DecodeErrors))
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d samples, %d Hz, %d ch, %.1fx realtime\n",
		in, out, sum.Samples, sum.SampleRate, sum.Channels, sum.Realtime())
	if sum.DecodeErrors > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d recoverable decode errors\n", sum.DecodeErrors)
	}
	return nil
}

// decodeErrors reads the process-wide recoverable error count.
func decodeErrors(rt *app.Runtime) uint64 {
	if rt.Metrics == nil {
		return 0
	}
	n, err := rt.Metrics.Total(metrics.CodecErrorsTotal)
	if err != nil {
		logger.Global().Module("decode").Warn("metrics unavailable", logger.Error(err))
		return 0
	}
	return uint64(n)
}

// Render writes frames from s to w as 16-bit PCM WAV until the stream ends
// or limit samples per channel have been written. A zero limit renders the
// whole stream.
func Render(s *pipeline.Session, w io.WriteSeeker, limit uint64) (Summary, error) {
	start := time.Now()
	info := s.Info()
	sum := Summary{SampleRate: info.SampleRate, Channels: info.Channels}

	var enc *wav.Encoder
	buf := &audio.IntBuffer{SourceBitDepth: 16}

	for limit == 0 || sum.Samples < limit {
		frame, err := s.NextFrame()
		if errors.Is(err, media.ErrEndOfStream) {
			break
		}
		if err != nil {
			return sum, err
		}

		if enc == nil {
			sum.SampleRate, sum.Channels = frame.SampleRate, frame.Channels
			enc = wav.NewEncoder(w, int(frame.SampleRate), 16, int(frame.Channels), 1)
			buf.Format = &audio.Format{SampleRate: int(frame.SampleRate), NumChannels: int(frame.Channels)}
		} else if frame.SampleRate != sum.SampleRate || frame.Channels != sum.Channels {
			return sum, fmt.Errorf("%w: stream changed from %d Hz/%d ch to %d Hz/%d ch",
				media.ErrUnsupported, sum.SampleRate, sum.Channels, frame.SampleRate, frame.Channels)
		}

		samples := frame.Samples
		if limit > 0 {
			if remaining := limit - sum.Samples; uint64(frame.Len()) > remaining {
				samples = samples[:remaining*uint64(frame.Channels)]
			}
		}

		buf.Data = buf.Data[:0]
		for _, v := range samples {
			buf.Data = append(buf.Data, int(v))
		}
		if err := enc.Write(buf); err != nil {
			return sum, fmt.Errorf("wav write: %w", err)
		}
		sum.Frames++
		sum.Samples += uint64(len(samples) / int(frame.Channels))
	}

	if enc == nil {
		return sum, fmt.Errorf("%w: stream produced no audio", media.ErrInvalidMedia)
	}
	if err := enc.Close(); err != nil {
		return sum, fmt.Errorf("wav finalize: %w", err)
	}
	sum.Elapsed = time.Since(start)
	return sum, nil
}
