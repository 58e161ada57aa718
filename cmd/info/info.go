// Package info implements the info and version commands.
package info

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/buildinfo"
	"github.com/tphakala/mediacore/internal/cpuspec"
)

// VersionCommand prints build metadata. It needs no initialized runtime.
func VersionCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String(rt.Build))
			return err
		},
	}
}

// Command creates the info command.
func Command(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show CPU capabilities, supported formats and codecs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd.OutOrStdout(), rt, cpuspec.GetCPUSpec())
		},
	}
}

func write(w io.Writer, rt *app.Runtime, spec cpuspec.CPUSpec) error {
	compare := "scalar"
	if cpuspec.HasVectorCompare() {
		compare = "wide"
	}

	fmt.Fprintln(w, buildinfo.String(rt.Build))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "CPU:              %s (%s)\n", orUnknown(spec.BrandName), orUnknown(spec.Vendor))
	fmt.Fprintf(w, "Cores:            %d logical, %d physical", spec.LogicalCores, spec.PhysicalCores)
	if spec.PerformanceCores > 0 {
		fmt.Fprintf(w, ", %d performance", spec.PerformanceCores)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Features:         %s\n", orUnknown(strings.Join(spec.Features, " ")))
	fmt.Fprintf(w, "Signature match:  %s\n", compare)
	fmt.Fprintf(w, "Probe workers:    %d\n", spec.ProbeWorkers(0))

	if reg := rt.Deps.Registry; reg != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Containers:")
		for _, f := range reg.Formats() {
			fmt.Fprintf(w, "  %-6s %-24s %s\n", f.ID, f.Name, strings.Join(f.Extensions, ", "))
		}
	}
	if codecs := rt.Deps.Codecs; codecs != nil {
		fmt.Fprintf(w, "\nCodecs:           %s\n", strings.Join(codecs.Names(), ", "))
	}
	if rt.Pool != nil {
		st := rt.Pool.Stats()
		fmt.Fprintf(w, "\nBuffer pool:      %d KiB pooled of %d KiB, pressure %s\n",
			st.PooledBytes>>10, st.MaxPoolSize>>10, st.Level)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return buildinfo.UnknownValue
	}
	return s
}
