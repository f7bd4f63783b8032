package bench

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"blockbench/pkg/format"
	"blockbench/pkg/tensor"
)

// Report is everything printed at the end of a run.
type Report struct {
	Device  DeviceInfo
	Summary Summary
	Result  *Result

	DType          tensor.DType
	Parameters     int
	ParameterBytes int64
}

// WriteReport prints the device block followed by a latency table.
func WriteReport(w io.Writer, r Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Using device: %s\n", r.Device.Device)
	fmt.Fprintln(bw, r.Device.Name)
	fmt.Fprintln(bw, "Memory Usage:")
	fmt.Fprintf(bw, "Allocated: %s GB\n", format.GiB(r.Device.Allocated))
	fmt.Fprintf(bw, "Cached:   %s GB\n", format.GiB(r.Device.Cached))
	fmt.Fprintln(bw)

	s := r.Summary
	table := newTable(bw)
	table.SetHeader([]string{"STEPS", "MEAN", "STDDEV", "P50", "P90", "P99", "MIN", "MAX", "STEPS/S"})
	table.Append([]string{
		strconv.Itoa(s.Steps),
		format.Latency(s.Mean),
		format.Latency(s.StdDev),
		format.Latency(s.P50),
		format.Latency(s.P90),
		format.Latency(s.P99),
		format.Latency(s.Min),
		format.Latency(s.Max),
		fmt.Sprintf("%.1f", s.StepsPerSecond),
	})
	table.Render()
	fmt.Fprintln(bw)

	var cacheLen int
	var cacheBytes, cacheReserved int64
	if r.Result != nil {
		cacheLen, cacheBytes, cacheReserved = r.Result.CacheLen, r.Result.CacheBytes, r.Result.CacheReserved
	}

	table = newTable(bw)
	table.SetHeader([]string{"DTYPE", "PARAMETERS", "WEIGHTS", "CACHED TOKENS", "CACHE", "RESERVED"})
	table.Append([]string{
		r.DType.String(),
		format.HumanNumber(uint64(r.Parameters)),
		format.HumanBytes(r.ParameterBytes),
		strconv.Itoa(cacheLen),
		format.HumanBytes(cacheBytes),
		format.HumanBytes(cacheReserved),
	})
	table.Render()

	return bw.Flush()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoFormatHeaders(false)
	return table
}
