package alloctrack

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func CheckNonNegative[T ~int](number T, name string) error {
	if number < 0 {
		return cerrors.Wrapf(NegativeSizeError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// FormatSize renders a byte count with a power-of-two unit suffix, suitable for
// report tables where column space is limited. Sizes small enough to read
// comfortably are rendered in plain bytes.
func FormatSize(size int) string {
	var unit string
	var shown int

	switch {
	case size > 0x20000000000000:
		unit = "PB"
		shown = size >> 50
	case size > 0x80000000000:
		unit = "TB"
		shown = size >> 40
	case size > 0x200000000:
		unit = "GB"
		shown = size >> 30
	case size > 0x800000:
		unit = "MB"
		shown = size >> 20
	case size > 0x10000:
		unit = "kB"
		shown = size >> 10
	default:
		return fmt.Sprintf("%dB", size)
	}

	return fmt.Sprintf("%d%s", shown, unit)
}

// maxLocationFileLen is the longest file name FormatLocation will render before
// truncating from the left
const maxLocationFileLen = 20

// FormatLocation renders a file/line pair as "file:line", truncating long file
// names so the result stays narrow enough for fixed-width report columns.
func FormatLocation(file string, line int) string {
	if len(file) > maxLocationFileLen {
		return fmt.Sprintf("%s...:%d", file[:17], line)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
