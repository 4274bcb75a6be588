package route

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/lwfabric/fabtopo/pkg/device"
)

// Print writes a human-readable dump of the store: connections first, then
// every route with its paths and the targets each path serves.
func Print(w io.Writer, s *Store) error {
	var b strings.Builder

	var unused int
	for _, c := range s.Connections() {
		if c.Unused {
			unused++
		}
	}
	fmt.Fprintf(&b, "Connections: %d (%d unused)\n", len(s.Connections()), unused)
	for _, c := range s.Connections() {
		fmt.Fprintf(&b, "  #%-3d %s  x%d\n", c.ID, c, c.Width())
	}

	routes := s.GetRoutes()
	fmt.Fprintf(&b, "\nRoutes: %d (%s paths)\n", len(routes), humanize.Comma(int64(s.PathCount())))
	for _, r := range routes {
		fmt.Fprintf(&b, "  %s -> %s: %d path(s)\n", device.Name(r.Source), device.Name(r.Dest), len(r.Paths))
		for i, p := range r.Paths {
			fmt.Fprintf(&b, "    [%d] %s\n", i, p)
			fmt.Fprintf(&b, "        targets: %s\n", FormatTargets(p.Targets))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatTargets renders targets grouped by aperture, e.g.
// "0x0+64 GiB(request,response)".
func FormatTargets(targets []Target) string {
	var parts []string
	for i := 0; i < len(targets); {
		t := targets[i]
		var dts []string
		j := i
		for ; j < len(targets) && targets[j].FabricBase == t.FabricBase; j++ {
			dts = append(dts, string(targets[j].DataType))
		}
		parts = append(parts, fmt.Sprintf("0x%x+%s(%s)", t.FabricBase, humanize.IBytes(t.Size), strings.Join(dts, ",")))
		i = j
	}
	return strings.Join(parts, " ")
}
