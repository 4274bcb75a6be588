package device

import (
	"math/bits"

	"github.com/lwfabric/fabtopo/pkg/util"
)

// MaxMaskLinks is the widest device a LinkMask can describe.
const MaxMaskLinks = 64

// LinkMask is a bitmask of link indexes on one device.
type LinkMask uint64

// MaskOf builds a mask from link indexes. Links outside [0,64) are ignored.
func MaskOf(links ...int) LinkMask {
	var m LinkMask
	for _, l := range links {
		m = m.Set(l)
	}
	return m
}

// Set returns m with link l set.
func (m LinkMask) Set(l int) LinkMask {
	if l < 0 || l >= MaxMaskLinks {
		return m
	}
	return m | 1<<uint(l)
}

// Has reports whether link l is in the mask.
func (m LinkMask) Has(l int) bool {
	if l < 0 || l >= MaxMaskLinks {
		return false
	}
	return m&(1<<uint(l)) != 0
}

// Count returns the number of links in the mask.
func (m LinkMask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// Links returns the link indexes in ascending order.
func (m LinkMask) Links() []int {
	links := make([]int, 0, m.Count())
	for v := uint64(m); v != 0; v &= v - 1 {
		links = append(links, bits.TrailingZeros64(v))
	}
	return links
}

// String renders the mask in range notation, e.g. "0-3,6".
func (m LinkMask) String() string {
	if m == 0 {
		return "-"
	}
	return util.CompactRange(m.Links())
}
