// Package timing measures wall-clock duration of operations.
package timing

import "time"

// Measure runs op synchronously and returns the elapsed wall-clock time
// alongside op's error. Errors are passed through untranslated.
func Measure(op func() error) (time.Duration, error) {
	start := time.Now()
	err := op()
	return time.Since(start), err
}
