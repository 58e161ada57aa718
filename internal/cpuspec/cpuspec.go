// Package cpuspec reports the CPU features and core layout that decide how
// much parallel probing to run and which byte-compare path the demuxers use.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	Vendor           string
	LogicalCores     int
	PhysicalCores    int
	PerformanceCores int // 0 when the layout is unknown or not hybrid
	Features         []string
}

// reported is the subset of feature flags printed by the info command.
var reported = []cpuid.FeatureID{cpuid.SSE2, cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.AVX512F, cpuid.ASIMD, cpuid.POPCNT}

// GetCPUSpec returns CPU specifications for the running machine.
func GetCPUSpec() CPUSpec {
	spec := CPUSpec{
		BrandName:        cpuid.CPU.BrandName,
		Vendor:           cpuid.CPU.VendorString,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		PerformanceCores: determinePerformanceCores(cpuid.CPU.BrandName),
	}
	for _, f := range reported {
		if cpuid.CPU.Supports(f) {
			spec.Features = append(spec.Features, f.String())
		}
	}
	return spec
}

// HasVectorCompare reports whether 128-bit loads are available, which makes
// word-at-a-time signature comparison worthwhile.
func HasVectorCompare() bool {
	return cpuid.CPU.Supports(cpuid.SSE2) || cpuid.CPU.Supports(cpuid.ASIMD)
}

// ProbeWorkers returns the number of files to scan concurrently. Hybrid
// parts are limited to their performance cores; limit caps the result when
// positive.
func (c CPUSpec) ProbeWorkers(limit int) int {
	n := runtime.NumCPU()
	if c.PerformanceCores > 0 && c.PerformanceCores < n {
		n = c.PerformanceCores
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return max(n, 1)
}

var (
	intelCoreRegex  = regexp.MustCompile(`intel.*(?:core.*i[3579]-(\d{5})|core.*ultra\s+([579])\s+(?:processor\s+)?(\d{3}))`)
	appleSiliconRex = regexp.MustCompile(`apple\s+(m[1-4](?:\s*(?:pro|max|ultra))?)`)
)

// intelPCores maps the four leading model digits of 12th to 14th gen Core
// parts to their performance core count.
var intelPCores = map[string]int{
	"1290": 8, "1270": 8, "1260": 6, "1240": 6, "1210": 4,
	"1390": 8, "1370": 8, "1360": 6, "1350": 6, "1340": 6, "1310": 4,
	"1490": 8, "1470": 8, "1460": 6, "1440": 6, "1410": 4,
}

var coreUltraPCores = map[string]int{
	"285": 8, "265": 8, "255": 8, "245": 6, "235": 6, "225": 4,
}

var applePCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 6, "m3 max": 12, "m3 ultra": 24,
	"m4": 4, "m4 pro": 10, "m4 max": 12,
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelCoreRegex.FindStringSubmatch(brandName); m != nil {
		if m[1] != "" {
			return intelPCores[m[1][:4]]
		}
		return coreUltraPCores[m[3]]
	}
	if m := appleSiliconRex.FindStringSubmatch(brandName); m != nil {
		chip := strings.Join(strings.Fields(m[1]), " ")
		return applePCores[chip]
	}
	return 0
}
