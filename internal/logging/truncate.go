package logging

import "strconv"

// MaxLogFieldLength is the maximum length of a string field before truncation
const MaxLogFieldLength = 256

// Truncate truncates a string to MaxLogFieldLength, appending "..." when cut
func Truncate(s string) string {
	return TruncateN(s, MaxLogFieldLength)
}

// TruncateN truncates a string to n characters, appending "..." when cut
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// TruncateSlice truncates a slice of strings to maxItems, replacing the tail
// with a "... and N more" marker
func TruncateSlice(items []string, maxItems int) []string {
	if len(items) <= maxItems {
		return items
	}
	truncated := make([]string, 0, maxItems+1)
	truncated = append(truncated, items[:maxItems]...)
	truncated = append(truncated, "... and "+itoa(len(items)-maxItems)+" more")
	return truncated
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
