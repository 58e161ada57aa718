// Package probe implements the probe command, which identifies containers
// and lists their streams without decoding.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/cpuspec"
	"github.com/tphakala/mediacore/internal/demux"
	"github.com/tphakala/mediacore/internal/demux/iso"
	"github.com/tphakala/mediacore/internal/media"
)

var (
	jobs         int
	outputFormat string
	recursive    bool
)

// Stream is the printable summary of one stream.
type Stream struct {
	ID            uint32 `json:"id" yaml:"id"`
	Codec         string `json:"codec" yaml:"codec"`
	SampleRate    uint32 `json:"sample_rate" yaml:"sample_rate"`
	Channels      uint16 `json:"channels" yaml:"channels"`
	BitsPerSample uint16 `json:"bits_per_sample,omitempty" yaml:"bits_per_sample,omitempty"`
	DurationMs    uint64 `json:"duration_ms" yaml:"duration_ms"`
	Title         string `json:"title,omitempty" yaml:"title,omitempty"`
	Artist        string `json:"artist,omitempty" yaml:"artist,omitempty"`
}

// Result describes one probed file.
type Result struct {
	Path       string   `json:"path" yaml:"path"`
	Format     string   `json:"format,omitempty" yaml:"format,omitempty"`
	Method     string   `json:"method,omitempty" yaml:"method,omitempty"`
	DurationMs uint64   `json:"duration_ms" yaml:"duration_ms"`
	Compliance string   `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Streams    []Stream `json:"streams,omitempty" yaml:"streams,omitempty"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Command creates the probe command.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [path...]",
		Short: "Identify media files and list their streams",
		Long:  "Probe files or directories and print the detected container, detection method and stream layout.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collect(args, recursive)
			if err != nil {
				return err
			}
			workers := cpuspec.GetCPUSpec().ProbeWorkers(jobs)
			results, err := Scan(cmd.Context(), rt.Deps.Registry, files, workers)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), results, outputFormat)
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "files probed concurrently (0 = one per performance core)")
	cmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format: table, json, yaml")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "descend into subdirectories")

	return cmd
}

// collect expands directories into the regular files they contain.
func collect(args []string, recursive bool) ([]string, error) {
	var files []string
	for _, arg := range args {
		err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", arg, err)
		}
	}
	return files, nil
}

// Scan probes files with up to workers concurrent demuxers. Per-file
// failures are reported in the result; only cancellation fails the scan.
func Scan(ctx context.Context, reg *demux.Registry, files []string, workers int) ([]Result, error) {
	if reg == nil {
		reg = demux.NewDefaultRegistry(demux.Options{})
	}
	results := make([]Result, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = probeFile(reg, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func probeFile(reg *demux.Registry, path string) Result {
	res := Result{Path: path}

	h, err := media.OpenFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer h.Close()

	res.Format, res.Method = reg.Detect(h, path)
	if res.Format == "" {
		res.Error = "unrecognized format"
		return res
	}
	if _, err := h.Seek(0, io.SeekStart); err != nil {
		res.Error = err.Error()
		return res
	}

	d := reg.CreateDemuxer(h, path)
	if d == nil {
		res.Error = "demuxer rejected stream"
		return res
	}
	defer d.Close()

	res.DurationMs = d.Duration()
	if r, ok := d.(interface{ Report() iso.ComplianceReport }); ok {
		res.Compliance = r.Report().Level.String()
	}
	for _, s := range d.Streams() {
		res.Streams = append(res.Streams, Stream{
			ID:            s.StreamID,
			Codec:         s.CodecName,
			SampleRate:    s.SampleRate,
			Channels:      s.Channels,
			BitsPerSample: s.BitsPerSample,
			DurationMs:    s.DurationMs,
			Title:         s.Title,
			Artist:        s.Artist,
		})
	}
	return res
}

func write(w io.Writer, results []Result, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(results)
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tFORMAT\tCODEC\tRATE\tCH\tDURATION\tNOTE")
		for _, r := range results {
			if r.Error != "" || len(r.Streams) == 0 {
				fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t%s\n", r.Path, orDash(r.Format), r.Error)
				continue
			}
			for _, s := range r.Streams {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.3fs\t%s\n",
					r.Path, r.Format, s.Codec, s.SampleRate, s.Channels,
					float64(s.DurationMs)/1000, r.Compliance)
			}
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
