package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// statusf prints a formatted line to stdout unless --quiet was given,
// matching the teacher's quiet-mode status helper in format.go.
func statusf(format string, args ...any) {
	if flagQuiet {
		return
	}

	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// formatCount renders an integer with thousands separators for
// human-readable pending/dirty counts (e.g. "12,480 pairs").
func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// formatRelativeTime renders a unix-nanosecond timestamp as "3 minutes ago",
// or "never" for the zero value.
func formatRelativeTime(unixNano int64) string {
	if unixNano == 0 {
		return "never"
	}

	return humanize.Time(unixNanoToTime(unixNano))
}

func unixNanoToTime(unixNano int64) time.Time {
	return time.Unix(0, unixNano)
}

// printTable writes aligned columns to w. headers and each row must have the
// same length. Grounded on the teacher's format.go printTable.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
