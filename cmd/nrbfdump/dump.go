package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/unkn0wn-root/nrbf"
)

type printer struct {
	w       *bufio.Writer
	printed map[nrbf.ObjectID]bool
}

func dumpText(out io.Writer, g *nrbf.Graph) error {
	p := &printer{w: bufio.NewWriter(out), printed: make(map[nrbf.ObjectID]bool)}
	h := g.Header()
	fmt.Fprintf(p.w, "header root=%d version=%d.%d\n", h.RootID, h.MajorVersion, h.MinorVersion)
	p.record(g.Root(), 0)
	return p.w.Flush()
}

func (p *printer) line(depth int, format string, args ...any) {
	p.w.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(p.w, format, args...)
	p.w.WriteByte('\n')
}

func (p *printer) record(r nrbf.Record, depth int) {
	id := r.ObjectID()
	if p.printed[id] {
		p.line(depth, "-> #%d", id)
		return
	}
	p.printed[id] = true

	switch x := r.(type) {
	case *nrbf.StringRecord:
		p.line(depth, "#%d %q", id, x.Value)
	case *nrbf.ClassRecord:
		lib := ""
		if x.Layout.Library != "" {
			lib = " [" + x.Layout.Library + "]"
		}
		p.line(depth, "#%d %s %s%s", id, r.RecordType(), x.Layout.Name, lib)
		for i, v := range x.Members {
			p.slot(depth+1, x.Layout.MemberNames[i], v)
		}
	case *nrbf.PrimitiveArray:
		p.line(depth, "#%d %s %s[%d] %v", id, r.RecordType(), x.Element, x.Len(), x.Values)
	case *nrbf.ObjectArray:
		p.line(depth, "#%d %s [%d]", id, r.RecordType(), len(x.Elements))
		p.elements(depth+1, x.Elements)
	case *nrbf.StringArray:
		p.line(depth, "#%d %s [%d]", id, r.RecordType(), len(x.Elements))
		p.elements(depth+1, x.Elements)
	case *nrbf.BinaryArray:
		p.line(depth, "#%d %s shape=%d lengths=%v element=%s", id, r.RecordType(), x.Shape, x.Lengths, x.Element.Binary)
		p.elements(depth+1, x.Elements)
	default:
		p.line(depth, "%s", r.RecordType())
	}
}

func (p *printer) elements(depth int, vs []nrbf.Value) {
	for i, v := range vs {
		p.slot(depth, fmt.Sprintf("[%d]", i), v)
	}
}

func (p *printer) slot(depth int, name string, v nrbf.Value) {
	switch v.Kind {
	case nrbf.ValueRecord:
		p.line(depth, "%s:", name)
		p.record(v.Record, depth+1)
	default:
		p.line(depth, "%s: %s", name, v)
	}
}

func dumpSummary(out io.Writer, g *nrbf.Graph) error {
	counts := make(map[nrbf.RecordType]int)
	for _, r := range g.Records() {
		counts[r.RecordType()]++
	}
	types := make([]nrbf.RecordType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	w := bufio.NewWriter(out)
	fmt.Fprintf(w, "root: %s #%d\n", g.Root().RecordType(), g.Root().ObjectID())
	fmt.Fprintf(w, "records with ids: %d\n", g.Len())
	for _, t := range types {
		fmt.Fprintf(w, "%-36s %d\n", t, counts[t])
	}
	return w.Flush()
}
