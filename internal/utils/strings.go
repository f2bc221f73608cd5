// Package utils holds small helpers shared by the command line tools.
package utils

import "strings"

// ParseTickers splits a comma-separated list of symbols, trimming whitespace,
// upper-casing and dropping empty entries. Returns nil when nothing remains.
func ParseTickers(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.ToUpper(strings.TrimSpace(v))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
