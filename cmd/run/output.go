package run

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/saveenergy/connflurry/pkg/types"
)

const marksPerPeriod = 1000

// OutputFormatter renders one run. Established and Failed are called from
// the driving goroutine for every terminal attempt and must be cheap.
type OutputFormatter interface {
	FormatStart(target string, concurrency int, total uint64)
	FormatEstablished(established uint64)
	FormatFailed()
	FormatComplete(report types.RunReport)
	FormatError(err error)
}

type JSONFormatter struct {
	writer io.Writer
	errw   io.Writer
}

func NewJSONFormatter(w, errw io.Writer) *JSONFormatter {
	return &JSONFormatter{writer: w, errw: errw}
}

func (f *JSONFormatter) FormatStart(string, int, uint64) {}

func (f *JSONFormatter) FormatEstablished(uint64) {}

func (f *JSONFormatter) FormatFailed() {}

func (f *JSONFormatter) FormatComplete(report types.RunReport) {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(f.errw, "connflurry: json encode error: %v\n", err)
	}
}

func (f *JSONFormatter) FormatError(err error) {
	fmt.Fprintf(f.errw, "connflurry: error: %v\n", err)
}

// PlainFormatter prints one mark per period of established connections
// and one per failure, then the summary block.
type PlainFormatter struct {
	writer io.Writer
	marks  io.Writer
}

func NewPlainFormatter(w, marks io.Writer) *PlainFormatter {
	return &PlainFormatter{writer: w, marks: marks}
}

func (f *PlainFormatter) FormatStart(string, int, uint64) {
	fmt.Fprintln(f.writer, "One period equals 1,000 established connections...")
}

func (f *PlainFormatter) FormatEstablished(established uint64) {
	if established%marksPerPeriod == 0 {
		io.WriteString(f.marks, ".")
	}
}

func (f *PlainFormatter) FormatFailed() {
	io.WriteString(f.marks, "X")
}

func (f *PlainFormatter) FormatComplete(r types.RunReport) {
	fmt.Fprintln(f.marks)
	fmt.Fprintf(f.writer, "Total time in milliseconds:              %d\n", r.DurationMs)
	fmt.Fprintf(f.writer, "Total number of established connections: %d\n", r.Established)
	fmt.Fprintf(f.writer, "Total number of attempted connections:   %d\n", r.Attempted)
	fmt.Fprintf(f.writer, "Total number of failed connections:      %d\n", r.Failed)
	fmt.Fprintf(f.writer, "Total number of reclaimed attempts:      %d\n", r.Reclaimed)
	fmt.Fprintf(f.writer, "Established connections per second:      %s\n", strconv.FormatFloat(r.PerSecond, 'f', -1, 64))
}

func (f *PlainFormatter) FormatError(err error) {
	fmt.Fprintf(f.marks, "connflurry: error: %v\n", err)
}

type InteractiveFormatter struct {
	writer  io.Writer
	marks   io.Writer
	noColor bool
}

func NewInteractiveFormatter(w, marks io.Writer, noColor bool) *InteractiveFormatter {
	return &InteractiveFormatter{writer: w, marks: marks, noColor: noColor}
}

func (f *InteractiveFormatter) paint(code, s string) string {
	if f.noColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *InteractiveFormatter) FormatStart(target string, concurrency int, total uint64) {
	fmt.Fprintf(f.writer, "%s %s (%s in flight, %s to establish)\n",
		f.paint("36", "Flurry:"), target,
		formatNumber(int64(concurrency)), formatNumber(int64(total)))
	fmt.Fprintln(f.writer, "One period equals 1,000 established connections...")
}

func (f *InteractiveFormatter) FormatEstablished(established uint64) {
	if established%marksPerPeriod == 0 {
		io.WriteString(f.marks, f.paint("32", "."))
	}
}

func (f *InteractiveFormatter) FormatFailed() {
	io.WriteString(f.marks, f.paint("31", "X"))
}

func (f *InteractiveFormatter) FormatComplete(r types.RunReport) {
	fmt.Fprintln(f.marks)
	fmt.Fprintln(f.writer, "\nResults:")
	fmt.Fprintf(f.writer, " %s %s\n", f.paint("37", "Status:"), statusLabel(f, r.Status))
	fmt.Fprintf(f.writer, " %s %s ms\n", f.paint("37", "Elapsed:"), formatNumber(r.DurationMs))
	fmt.Fprintf(f.writer, " %s %s\n", f.paint("32", "Established:"), formatNumber(int64(r.Established)))
	fmt.Fprintf(f.writer, " %s %s\n", f.paint("36", "Attempted:"), formatNumber(int64(r.Attempted)))
	fmt.Fprintf(f.writer, " %s %s\n", f.paint("31", "Failed:"), formatNumber(int64(r.Failed)))
	if r.Reclaimed > 0 {
		fmt.Fprintf(f.writer, " %s %s\n", f.paint("33", "Reclaimed:"), formatNumber(int64(r.Reclaimed)))
	}
	fmt.Fprintf(f.writer, " %s %.1f/s\n", f.paint("35", "Rate:"), r.PerSecond)
	if r.ConnectLatency.Count > 0 {
		fmt.Fprintf(f.writer, " %s %.3f ms (p50)  %.3f ms (p95)  %.3f ms (p99)\n",
			f.paint("33", "Connect:"), r.ConnectLatency.P50Ms, r.ConnectLatency.P95Ms, r.ConnectLatency.P99Ms)
	}
}

func (f *InteractiveFormatter) FormatError(err error) {
	fmt.Fprintf(f.marks, "%s %v\n", f.paint("31", "Error:"), err)
}

func statusLabel(f *InteractiveFormatter, s types.RunStatus) string {
	switch s {
	case types.RunStatusCompleted:
		return f.paint("32", string(s))
	case types.RunStatusFailed, types.RunStatusExhausted:
		return f.paint("31", string(s))
	default:
		return f.paint("33", string(s))
	}
}

func formatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	var result strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(r)
	}
	return result.String()
}
