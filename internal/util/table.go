package util

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TableColumn represents a column in a table
type TableColumn struct {
	Header string
	Key    string // key to extract from data map
	Width  int    // calculated width
}

// RenderTable writes data as a left-aligned table to w, sizing each column
// to its widest cell.
func RenderTable(w io.Writer, columns []TableColumn, data []map[string]interface{}) {
	if len(data) == 0 {
		fmt.Fprintln(w, "No data to display")
		return
	}

	cells := make([][]string, len(data))
	for i := range columns {
		columns[i].Width = displayWidth(columns[i].Header)
	}
	for r, row := range data {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col.Key]; ok {
				cells[r][i] = fmt.Sprintf("%v", v)
			}
			if width := displayWidth(cells[r][i]); width > columns[i].Width {
				columns[i].Width = width
			}
		}
	}

	header := make([]string, len(columns))
	separator := make([]string, len(columns))
	for i, col := range columns {
		header[i] = padToWidth(col.Header, col.Width)
		separator[i] = strings.Repeat("-", col.Width)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, " "), " "))
	fmt.Fprintln(w, strings.Join(separator, " "))

	for _, row := range cells {
		parts := make([]string, len(columns))
		for i, col := range columns {
			parts[i] = padToWidth(row[i], col.Width)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, " "), " "))
	}
}

// stripANSI removes color escape sequences so they do not count towards
// column widths.
func stripANSI(s string) string {
	for {
		start := strings.Index(s, "\033[")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "m")
		if end == -1 {
			return s
		}
		s = s[:start] + s[start+end+1:]
	}
}

func displayWidth(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

func padToWidth(s string, width int) string {
	if n := displayWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
