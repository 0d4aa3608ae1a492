package overlap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/VladislavFirsov/reportflow/internal/results"
)

// SafetyFactor divides the available memory when sizing partitions.
const SafetyFactor = 16

// cellBytes is the projected size of one joined cell.
const cellBytes = 8

// ProjectedRows estimates the row count of joining left and right on column on.
//
//	rows = Σ_{k ∈ L∩R} |L_k|·|R_k| + |L_nil|·|R_nil|
//	     + Σ_{k ∈ L\R} |L_k|   (left, outer)
//	     + Σ_{k ∈ R\L} |R_k|   (right, outer)
func ProjectedRows(left, right *results.Table, on string, how results.JoinHow) int64 {
	lc, lnil := left.KeyCounts(on)
	rc, rnil := right.KeyCounts(on)

	rows := int64(lnil) * int64(rnil)
	for k, ln := range lc {
		if rn, ok := rc[k]; ok {
			rows += int64(ln) * int64(rn)
		} else if how == results.JoinLeft || how == results.JoinOuter {
			rows += int64(ln)
		}
	}
	if how == results.JoinRight || how == results.JoinOuter {
		for k, rn := range rc {
			if _, ok := lc[k]; !ok {
				rows += int64(rn)
			}
		}
	}
	return rows
}

// ProjectedBytes is rows × (|columns(L)| + |columns(R)| − 1) × 8.
func ProjectedBytes(rows int64, leftColumns, rightColumns int) float64 {
	width := leftColumns + rightColumns - 1
	if width < 1 {
		width = 1
	}
	return float64(rows) * float64(width) * cellBytes
}

// Slices returns the smallest partition count s for which one partition's
// share of projected bytes is below available/SafetyFactor.
func Slices(projectedBytes float64, available uint64) int {
	budget := float64(available) / SafetyFactor
	if budget <= 0 {
		return 1
	}
	// smallest s with projectedBytes/s < budget
	s := int(projectedBytes/budget) + 1
	for s > 1 && projectedBytes/float64(s-1) < budget {
		s--
	}
	return s
}

// MemoryProbe reports the memory available for joins, in bytes.
type MemoryProbe func() (uint64, error)

// fallbackAvailable is used when the platform offers no memory statistics.
const fallbackAvailable = 1 << 30

// SystemMemory reads MemAvailable from /proc/meminfo.
func SystemMemory() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fallbackAvailable, nil
	}
	defer f.Close()
	return parseMeminfo(f)
}

func parseMeminfo(f io.Reader) (uint64, error) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse MemAvailable %q: %w", fields[1], err)
		}
		return kb * 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	return fallbackAvailable, nil
}
