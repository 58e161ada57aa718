// Package verify implements the verify command, which cross-checks the
// native FLAC decoder against an independent reference decoder.
package verify

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	reference "github.com/tphakala/flac"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/pipeline"
)

var tolerance int

// Report is the outcome of one comparison.
type Report struct {
	Path          string
	Samples       uint64 // interleaved
	Mismatches    uint64
	FirstMismatch int64 // interleaved index, -1 when none
	MaxDiff       int
	NativeExtra   uint64 // samples only the native decoder produced
	ReferenceLeft uint64 // samples only the reference decoder produced
}

// OK reports whether both decoders agree within tolerance and length.
func (r Report) OK() bool {
	return r.Mismatches == 0 && r.NativeExtra == 0 && r.ReferenceLeft == 0
}

// source yields interleaved 16-bit blocks until io.EOF.
type source interface {
	next() ([]int16, error)
}

// Command creates the verify command.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [file.flac...]",
		Short: "Cross-check the native FLAC decoder against the reference decoder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				rep, err := File(path, rt.Deps, tolerance)
				if err != nil {
					return err
				}
				if rep.OK() {
					fmt.Fprintf(cmd.OutOrStdout(), "OK    %s: %d samples identical\n", path, rep.Samples)
					continue
				}
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %d of %d samples differ (first at %d, max diff %d), native extra %d, reference extra %d\n",
					path, rep.Mismatches, rep.Samples, rep.FirstMismatch, rep.MaxDiff, rep.NativeExtra, rep.ReferenceLeft)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed verification", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tolerance, "tolerance", 0, "largest per-sample difference accepted")

	return cmd
}

// File decodes path with both decoders and compares their output.
func File(path string, deps pipeline.Deps, tolerance int) (Report, error) {
	s, err := pipeline.Open(path, deps)
	if err != nil {
		return Report{}, err
	}
	defer s.Close()
	if s.CodecName() != media.CodecFLAC {
		return Report{}, errors.New(fmt.Errorf("%w: %s is %s, not flac", media.ErrUnsupported, path, s.CodecName())).
			Component("verify").
			Category(errors.CategoryUnsupported).
			Build()
	}

	f, err := os.Open(path)
	if err != nil {
		return Report{}, errors.New(err).
			Component("verify").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()
	ref, err := newReferenceSource(f)
	if err != nil {
		return Report{}, err
	}

	rep, err := compare(&sessionSource{s: s}, ref, tolerance)
	rep.Path = path
	if err == nil {
		logger.Global().Module("verify").Info("verification finished",
			logger.String("path", path),
			logger.Uint64("samples", rep.Samples),
			logger.Uint64("mismatches", rep.Mismatches),
			logger.Bool("ok", rep.OK()))
	}
	return rep, err
}

// compare walks both sources in lockstep regardless of how each one
// blocks its output.
func compare(native, ref source, tolerance int) (Report, error) {
	rep := Report{FirstMismatch: -1}
	var a, b []int16
	aDone, bDone := false, false

	for {
		if len(a) == 0 && !aDone {
			blk, err := native.next()
			switch {
			case errors.Is(err, io.EOF):
				aDone = true
			case err != nil:
				return rep, fmt.Errorf("native decoder: %w", err)
			default:
				a = blk
			}
		}
		if len(b) == 0 && !bDone {
			blk, err := ref.next()
			switch {
			case errors.Is(err, io.EOF):
				bDone = true
			case err != nil:
				return rep, fmt.Errorf("reference decoder: %w", err)
			default:
				b = blk
			}
		}
		if len(a) == 0 && len(b) == 0 {
			if aDone && bDone {
				return rep, nil
			}
			continue
		}
		if len(a) == 0 && aDone {
			rep.ReferenceLeft += uint64(len(b))
			b = nil
			continue
		}
		if len(b) == 0 && bDone {
			rep.NativeExtra += uint64(len(a))
			a = nil
			continue
		}

		n := min(len(a), len(b))
		for i := range n {
			d := int(a[i]) - int(b[i])
			if d < 0 {
				d = -d
			}
			if d > tolerance {
				if rep.FirstMismatch < 0 {
					rep.FirstMismatch = int64(rep.Samples) + int64(i)
				}
				rep.Mismatches++
			}
			rep.MaxDiff = max(rep.MaxDiff, d)
		}
		rep.Samples += uint64(n)
		a, b = a[n:], b[n:]
	}
}

type sessionSource struct {
	s *pipeline.Session
}

func (src *sessionSource) next() ([]int16, error) {
	f, err := src.s.NextFrame()
	if errors.Is(err, media.ErrEndOfStream) {
		return nil, io.EOF
	}
	return f.Samples, err
}

// referenceSource adapts the reference decoder, which returns each frame as
// little-endian interleaved samples of BitsPerSample rounded up to bytes.
type referenceSource struct {
	dec   *reference.Decoder
	width int
	bps   uint8
	recon flac.SampleReconstructor
}

func newReferenceSource(r io.Reader) (*referenceSource, error) {
	dec, err := reference.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("reference decoder: %w", err)
	}
	if dec.BitsPerSample < 4 || dec.BitsPerSample > 32 {
		return nil, fmt.Errorf("%w: reference decoder reports %d bits per sample", media.ErrUnsupported, dec.BitsPerSample)
	}
	return &referenceSource{
		dec:   dec,
		width: (dec.BitsPerSample + 7) / 8,
		bps:   uint8(dec.BitsPerSample),
	}, nil
}

func (src *referenceSource) next() ([]int16, error) {
	raw, err := src.dec.Next()
	if err != nil {
		return nil, err
	}
	out := make([]int16, 0, len(raw)/src.width)
	for i := 0; i+src.width <= len(raw); i += src.width {
		out = append(out, src.recon.ToInt16(signExtend(raw[i:i+src.width]), src.bps))
	}
	return out, nil
}

// signExtend reads a little-endian two's complement value of len(b) bytes.
func signExtend(b []byte) int64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	shift := 64 - 8*len(b)
	return int64(v<<shift) >> shift
}
