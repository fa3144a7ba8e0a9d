package common

import "strconv"

// Integer is the set of integer types ByteSizeToString accepts. Declared locally instead of
// pulling in golang.org/x/exp/constraints for the sake of one generic helper.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

var MegaSize = []string{
	"B",
	"KB",
	"MB",
	"GB",
	"TB",
	"PB",
	"EB",
}

// ByteSizeToString renders size using binary (KiB, MiB, ...) units by default, or the
// decimal Mega* units (matching network throughput conventions) when megaUnits is set.
func ByteSizeToString[T Integer](size T, megaUnits bool) string {
	units := []string{
		"B",
		"KiB",
		"MiB",
		"GiB",
		"TiB",
		"PiB",
		"EiB",
	}
	unit := 0
	floatSize := float64(size)
	gigSize := 1024

	if megaUnits {
		gigSize = 1000
		units = MegaSize
	}

	for floatSize/float64(gigSize) >= 1 {
		unit++
		floatSize /= float64(gigSize)
	}

	return strconv.FormatFloat(floatSize, 'f', 2, 64) + " " + units[unit]
}
