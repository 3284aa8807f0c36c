package descriptor

// Memory unit multipliers as accepted by libvirt. Binary units use 1024,
// decimal units 1000.
var unitSizes = map[string]uint64{
	"b":     1,
	"bytes": 1,
	"KB":    1000,
	"k":     1 << 10,
	"KiB":   1 << 10,
	"MB":    1000 * 1000,
	"M":     1 << 20,
	"MiB":   1 << 20,
	"GB":    1000 * 1000 * 1000,
	"G":     1 << 30,
	"GiB":   1 << 30,
	"TB":    1000 * 1000 * 1000 * 1000,
	"T":     1 << 40,
	"TiB":   1 << 40,
}

func unitSize(unit string) (uint64, bool) {
	size, ok := unitSizes[unit]
	return size, ok
}
