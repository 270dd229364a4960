package transform

import (
	"bytes"
	"sort"
	"strings"
)

// DefaultServerOnlyExports are the export names removed from client builds
// when none are configured.
var DefaultServerOnlyExports = []string{"handler", "loader", "getServerData", "config"}

// ClassifiedExport is an export tagged with its server-only status.
type ClassifiedExport struct {
	Export
	// ServerOnly is set when every binding of the statement is server-only;
	// such statements are removed whole.
	ServerOnly bool
	// Partial is set on clauses and variable statements where only some
	// specifiers or declarators are server-only.
	Partial bool
	// Drop marks the clause specifiers, or for variable statements the
	// declarators, to remove by index.
	Drop []bool
}

// Analysis is the export classification of one module.
type Analysis struct {
	Exports []ClassifiedExport
}

// ServerOnlyNames returns the server-only bindings found, sorted.
func (a *Analysis) ServerOnlyNames() []string {
	var names []string
	for _, e := range a.Exports {
		switch {
		case e.ServerOnly:
			names = append(names, e.Names...)
		case e.Partial && e.Kind == ExportVariable:
			for i, d := range e.Declarators {
				if e.Drop[i] {
					names = append(names, d.Names...)
				}
			}
		case e.Partial:
			for i, s := range e.Specifiers {
				if e.Drop[i] {
					names = append(names, s.Exported)
				}
			}
		}
	}
	sort.Strings(names)
	return names
}

// HasServerOnly reports whether anything would be stripped.
func (a *Analysis) HasServerOnly() bool {
	for _, e := range a.Exports {
		if e.ServerOnly || e.Partial {
			return true
		}
	}
	return false
}

// Stripper removes server-only exports from module source.
// It is immutable and safe for concurrent use.
type Stripper struct {
	names map[string]bool
}

// NewStripper returns a Stripper for the given export names, falling back to
// DefaultServerOnlyExports when names is empty.
func NewStripper(names []string) *Stripper {
	if len(names) == 0 {
		names = DefaultServerOnlyExports
	}
	s := &Stripper{names: make(map[string]bool, len(names))}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

// IsServerOnly reports whether an exported name is server-only.
func (s *Stripper) IsServerOnly(name string) bool {
	return s.names[name]
}

// Analyze scans src and classifies its exports. Default exports, star
// re-exports and type-only exports are never server-only.
func (s *Stripper) Analyze(src []byte) *Analysis {
	exports := ScanExports(src)
	a := &Analysis{Exports: make([]ClassifiedExport, 0, len(exports))}

	for _, e := range exports {
		ce := ClassifiedExport{Export: e}
		switch e.Kind {
		case ExportVariable:
			ce.Drop = make([]bool, len(e.Declarators))
			for i, d := range e.Declarators {
				ce.Drop[i] = s.anyServerOnly(d.Names)
			}
			ce.mark()
		case ExportFunction, ExportClass, ExportEnum:
			ce.ServerOnly = s.anyServerOnly(e.Names)
		case ExportClause, ExportReExport:
			ce.Drop = make([]bool, len(e.Specifiers))
			for i, spec := range e.Specifiers {
				ce.Drop[i] = !spec.TypeOnly && s.names[spec.Exported]
			}
			ce.mark()
		}
		a.Exports = append(a.Exports, ce)
	}
	return a
}

// mark sets ServerOnly when every entry of Drop is set and Partial when
// only some are.
func (ce *ClassifiedExport) mark() {
	dropped := 0
	for _, d := range ce.Drop {
		if d {
			dropped++
		}
	}
	switch {
	case dropped == 0:
	case dropped == len(ce.Drop):
		ce.ServerOnly = true
	default:
		ce.Partial = true
	}
}

// anyServerOnly reports whether any of the names bound by one declaration
// is server-only. A destructuring declarator is dropped as a unit.
func (s *Stripper) anyServerOnly(names []string) bool {
	for _, n := range names {
		if s.names[n] {
			return true
		}
	}
	return false
}

// Strip returns src with server-only exports removed and the names that were
// stripped. When nothing matches, src is returned unchanged.
func (s *Stripper) Strip(src []byte) ([]byte, []string) {
	a := s.Analyze(src)
	if !a.HasServerOnly() {
		return src, nil
	}
	return a.Apply(src), a.ServerOnlyNames()
}

// Apply rewrites src according to the classification. The analysis must
// have been produced from the same src.
func (a *Analysis) Apply(src []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(src))
	cursor := 0

	for _, e := range a.Exports {
		switch {
		case e.ServerOnly:
			out.Write(src[cursor:e.Start])
			cursor = trailingLineBreak(src, e.End)
		case e.Partial && e.Kind == ExportVariable:
			decls := e.Declarators
			out.Write(src[cursor:decls[0].Start])
			kept := make([]string, 0, len(decls))
			for i, d := range decls {
				if !e.Drop[i] {
					kept = append(kept, string(src[d.Start:d.End]))
				}
			}
			out.WriteString(strings.Join(kept, ", "))
			cursor = decls[len(decls)-1].End
		case e.Partial:
			out.Write(src[cursor:e.BraceStart])
			kept := make([]string, 0, len(e.Specifiers))
			for i, spec := range e.Specifiers {
				if !e.Drop[i] {
					kept = append(kept, spec.Text)
				}
			}
			out.WriteString("{ ")
			out.WriteString(strings.Join(kept, ", "))
			out.WriteString(" }")
			cursor = e.BraceEnd
		}
	}
	out.Write(src[cursor:])
	return out.Bytes()
}

// trailingLineBreak extends end over trailing blanks and one line break.
func trailingLineBreak(src []byte, end int) int {
	i := end
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	if i < len(src) && src[i] == '\r' {
		i++
	}
	if i < len(src) && src[i] == '\n' {
		return i + 1
	}
	return end
}

// StripServerOnly removes the named server-only exports from src.
func StripServerOnly(src []byte, names []string) []byte {
	out, _ := NewStripper(names).Strip(src)
	return out
}

// HasServerOnly reports whether src exports any of the named server-only
// bindings.
func HasServerOnly(src []byte, names []string) bool {
	return NewStripper(names).Analyze(src).HasServerOnly()
}
