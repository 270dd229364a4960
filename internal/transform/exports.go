// Package transform produces the client variant of a module by removing its
// server-only exports before bundling.
//
// Exports are found with a lexical scan of the top level of the module;
// strings, template literals, comments and regular expressions are skipped
// so that braces inside them do not disturb nesting. Each export is
// classified once against the configured server-only names and stripping
// works from that classification.
package transform

// ExportKind identifies the syntactic form of a top-level export.
type ExportKind uint8

const (
	ExportFunction ExportKind = iota
	ExportClass
	ExportVariable
	ExportEnum
	ExportClause
	ExportReExport
	ExportStar
	ExportDefault
	ExportType
)

// String returns the string representation of the ExportKind
func (k ExportKind) String() string {
	switch k {
	case ExportFunction:
		return "function"
	case ExportClass:
		return "class"
	case ExportVariable:
		return "variable"
	case ExportEnum:
		return "enum"
	case ExportClause:
		return "clause"
	case ExportReExport:
		return "re-export"
	case ExportStar:
		return "star"
	case ExportDefault:
		return "default"
	case ExportType:
		return "type"
	default:
		return "unknown"
	}
}

// Specifier is one entry of an export clause: `local as exported`.
type Specifier struct {
	Local    string
	Exported string
	// Text is the specifier as written, e.g. "type A" or "a as b".
	Text     string
	TypeOnly bool
}

// Declarator is one binding of a variable statement, e.g. `title = 'x'` in
// `export let config = {}, title = 'x'`.
type Declarator struct {
	Names []string
	Start int
	End   int
}

// Export is one top-level export statement.
type Export struct {
	Kind ExportKind
	// Names are the exported bindings introduced by the statement.
	Names []string
	// Start and End delimit the statement including a trailing semicolon.
	Start int
	End   int

	// Clause fields; BraceEnd is the index after the closing brace.
	Specifiers []Specifier
	BraceStart int
	BraceEnd   int
	Source     string

	// Declarators of a variable statement, in source order.
	Declarators []Declarator
}

// ScanExports lists the top-level export statements of a module in source
// order.
func ScanExports(src []byte) []Export {
	var exports []Export
	l := newLexer(src, 0)
	depth := 0

	for {
		t := l.next()
		if t.kind == tokEOF {
			return exports
		}

		if t.kind == tokPunct {
			switch src[t.start] {
			case '{', '(', '[':
				depth++
			case '}', ')', ']':
				if depth > 0 {
					depth--
				}
			}
			continue
		}

		if depth != 0 || t.kind != tokIdent || !t.is(src, "export") {
			continue
		}
		if t.start > 0 && src[t.start-1] == '.' {
			continue
		}

		if exp, ok := parseExport(l, t); ok {
			exports = append(exports, exp)
			// resume at a statement boundary, where a slash opens a regex
			l.pos = exp.End
			l.last = token{}
		}
	}
}

// parseExport parses the statement whose `export` keyword is kw.
func parseExport(l *lexer, kw token) (Export, bool) {
	src := l.src
	exp := Export{Start: kw.start}

	t := l.next()
	switch {
	case t.kind == tokIdent && t.is(src, "default"):
		exp.Kind = ExportDefault
		exp.Names = []string{"default"}
		after := l.peek()
		if after.kind == tokIdent && (after.is(src, "function") || after.is(src, "class") || after.is(src, "async") || after.is(src, "abstract")) {
			exp.End = declarationEnd(l)
		} else {
			exp.End = statementEnd(l)
		}

	case t.kind == tokIdent && (t.is(src, "declare") || t.is(src, "abstract")):
		// modifiers: restart on the declaration keyword
		return parseExport(l, kw)

	case t.kind == tokIdent && t.is(src, "async"):
		l.next() // function
		exp.Kind = ExportFunction
		exp.Names = declName(l)
		exp.End = declarationEnd(l)

	case t.kind == tokIdent && t.is(src, "function"):
		exp.Kind = ExportFunction
		exp.Names = declName(l)
		exp.End = declarationEnd(l)

	case t.kind == tokIdent && t.is(src, "class"):
		exp.Kind = ExportClass
		exp.Names = declName(l)
		exp.End = declarationEnd(l)

	case t.kind == tokIdent && (t.is(src, "const") || t.is(src, "let") || t.is(src, "var")):
		if p := l.peek(); p.kind == tokIdent && p.is(src, "enum") {
			l.next()
			exp.Kind = ExportEnum
			exp.Names = declName(l)
			exp.End = declarationEnd(l)
			break
		}
		exp.Kind = ExportVariable
		exp.Declarators, exp.End = variableDeclarators(l)
		for _, d := range exp.Declarators {
			exp.Names = append(exp.Names, d.Names...)
		}

	case t.kind == tokIdent && t.is(src, "enum"):
		exp.Kind = ExportEnum
		exp.Names = declName(l)
		exp.End = declarationEnd(l)

	case t.kind == tokIdent && (t.is(src, "interface") || t.is(src, "namespace") || t.is(src, "module")):
		exp.Kind = ExportType
		exp.Names = declName(l)
		exp.End = declarationEnd(l)

	case t.kind == tokIdent && t.is(src, "type"):
		if p := l.peek(); p.punct(src) == '{' || p.punct(src) == '*' {
			// export type { A } [from "x"]
			exp, ok := parseExport(l, kw)
			exp.Kind = ExportType
			return exp, ok
		}
		exp.Kind = ExportType
		exp.Names = declName(l)
		exp.End = statementEnd(l)

	case t.punct(src) == '{':
		exp.BraceStart = t.start
		exp.Specifiers, exp.BraceEnd = clauseSpecifiers(l)
		exp.Kind = ExportClause
		for _, s := range exp.Specifiers {
			exp.Names = append(exp.Names, s.Exported)
		}
		exp.Source, exp.End = clauseTail(l)
		if exp.Source != "" {
			exp.Kind = ExportReExport
		}

	case t.punct(src) == '*':
		exp.Kind = ExportStar
		name := "*"
		if p := l.peek(); p.kind == tokIdent && p.is(src, "as") {
			l.next()
			name = l.next().text(src)
		}
		exp.Names = []string{name}
		exp.Source, exp.End = clauseTail(l)

	default:
		// export import X = ..., export = ..., or malformed input
		exp.Kind = ExportVariable
		exp.End = statementEnd(l)
	}

	return exp, exp.End > exp.Start
}

// declName reads the binding name following a declaration keyword, skipping
// a generator star.
func declName(l *lexer) []string {
	t := l.peek()
	if t.punct(l.src) == '*' {
		l.next()
		t = l.peek()
	}
	if t.kind != tokIdent {
		return nil
	}
	l.next()
	return []string{t.text(l.src)}
}

// declarationEnd finds the body of a function, class, enum or interface and
// returns the index after its closing brace. A brace is taken as the body
// when it follows a complete signature (identifier, closing bracket or
// string); other braces belong to types or arguments and are skipped.
func declarationEnd(l *lexer) int {
	src := l.src
	prev := l.last
	depth, angle := 0, 0
	for {
		t := l.next()
		if t.kind == tokEOF {
			return t.end
		}
		if t.kind != tokPunct {
			prev = t
			continue
		}

		switch src[t.start] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '<':
			if depth == 0 {
				angle++
			}
		case '>':
			if depth == 0 && prev.punct(src) != '=' && angle > 0 {
				angle--
			}
		case '{':
			if depth == 0 && angle == 0 && opensBody(src, prev) {
				end := matchBrace(l)
				return withSemicolon(src, end)
			}
			depth++
		case '}':
			depth--
		}
		prev = t
	}
}

func opensBody(src []byte, prev token) bool {
	switch prev.kind {
	case tokIdent, tokString, tokTemplate:
		return true
	case tokPunct:
		switch src[prev.start] {
		case ')', ']', '}', '>':
			return true
		}
	}
	return false
}

// matchBrace consumes tokens up to the brace closing one that was just read
// and returns the index after it.
func matchBrace(l *lexer) int {
	depth := 1
	for {
		t := l.next()
		switch t.kind {
		case tokEOF:
			return t.end
		case tokPunct:
			switch l.src[t.start] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return t.end
				}
			}
		}
	}
}

// variableDeclarators reads `a = 1, { b } = c, d` and returns each
// declarator with its simple binding names plus the end of the statement.
func variableDeclarators(l *lexer) ([]Declarator, int) {
	src := l.src
	var decls []Declarator
	expectName := true
	depth := 0
	last := 0 // end of the last token of the current declarator
	finish := func() {
		if n := len(decls); n > 0 && decls[n-1].End == 0 {
			decls[n-1].End = last
		}
	}

	for {
		t := l.peek()
		if t.kind == tokEOF {
			l.next()
			finish()
			return decls, t.end
		}
		if depth == 0 && t.newlineBefore && !expectName && !continues(src, l.last, t) {
			finish()
			return decls, l.last.end
		}
		l.next()

		if t.kind == tokPunct {
			switch src[t.start] {
			case '{', '(', '[':
				if expectName && depth == 0 {
					decls = append(decls, Declarator{Start: t.start})
					decls[len(decls)-1].Names = patternNames(l)
					last = l.last.end
					expectName = false
					continue
				}
				depth++
			case '}', ')', ']':
				depth--
				if depth < 0 {
					finish()
					return decls, t.start
				}
			case ',':
				if depth == 0 {
					finish()
					expectName = true
					continue
				}
			case ';':
				if depth == 0 {
					finish()
					return decls, t.end
				}
			}
			last = t.end
			continue
		}

		if expectName && depth == 0 && t.kind == tokIdent {
			decls = append(decls, Declarator{Names: []string{t.text(src)}, Start: t.start})
			expectName = false
		}
		last = t.end
	}
}

// patternNames collects the bound identifiers of a destructuring pattern
// whose opening bracket was just consumed.
func patternNames(l *lexer) []string {
	src := l.src
	var names []string
	depth := 1
	// pending holds the last identifier seen at this level; it is a binding
	// unless followed by ':' (object key) or it is a default value.
	var pending string
	inDefault := false
	flush := func() {
		if pending != "" && !inDefault {
			names = append(names, pending)
		}
		pending = ""
		inDefault = false
	}

	for depth > 0 {
		t := l.next()
		switch t.kind {
		case tokEOF:
			return names
		case tokIdent:
			if !inDefault {
				pending = t.text(src)
			}
		case tokPunct:
			switch src[t.start] {
			case ':':
				if depth == 1 {
					pending = ""
				}
			case '=':
				if depth == 1 {
					if pending != "" {
						names = append(names, pending)
						pending = ""
					}
					inDefault = true
				}
			case ',':
				if depth == 1 {
					flush()
				}
			case '{', '[', '(':
				if inDefault {
					depth++
					continue
				}
				pending = ""
				names = append(names, patternNames(l)...)
			case '}', ']', ')':
				depth--
				if depth == 0 {
					flush()
				}
			}
		}
	}
	return names
}

// statementEnd returns the end of an expression statement, honouring
// semicolons and automatic semicolon insertion at line breaks.
func statementEnd(l *lexer) int {
	src := l.src
	depth := 0
	started := false
	for {
		t := l.peek()
		if t.kind == tokEOF {
			l.next()
			return t.end
		}
		if depth == 0 && started && t.newlineBefore && !continues(src, l.last, t) {
			return l.last.end
		}
		l.next()
		started = true

		if t.kind == tokPunct {
			switch src[t.start] {
			case '{', '(', '[':
				depth++
			case '}', ')', ']':
				depth--
				if depth < 0 {
					return t.start
				}
			case ';':
				if depth == 0 {
					return t.end
				}
			}
		}
	}
}

// continues reports whether next, which starts a new line, continues the
// expression ending with prev.
func continues(src []byte, prev, next token) bool {
	if prev.kind == tokPunct {
		switch src[prev.start] {
		case '=', '+', '-', '*', '/', '%', '&', '|', '^', '!', '<', '?', ':', ',', '.', '(', '[', '{':
			return true
		case '>':
			// arrow functions: `=>` at the end of a line
			return prev.start > 0 && src[prev.start-1] == '='
		}
	}
	if prev.kind == tokIdent {
		switch prev.text(src) {
		case "extends", "typeof", "keyof", "instanceof", "in", "new", "as", "satisfies", "return", "await":
			return true
		}
	}

	switch next.kind {
	case tokTemplate:
		return true
	case tokIdent:
		switch next.text(src) {
		case "as", "satisfies", "instanceof", "in":
			return true
		}
		return false
	case tokPunct:
		switch src[next.start] {
		case '.', ',', '?', ':', '+', '-', '*', '/', '%', '&', '|', '^', '=', '<', '>', ')', ']', '}', '(', '[':
			return true
		}
	}
	return false
}

// clauseSpecifiers parses `{ a, b as c, type D }` after its opening brace and
// returns the specifiers and the index after the closing brace.
func clauseSpecifiers(l *lexer) ([]Specifier, int) {
	src := l.src
	var specs []Specifier
	var cur []token

	build := func() {
		if len(cur) == 0 {
			return
		}
		spec := Specifier{Text: string(src[cur[0].start:cur[len(cur)-1].end])}
		words := cur
		if len(words) > 1 && words[0].is(src, "type") {
			spec.TypeOnly = true
			words = words[1:]
		}
		spec.Local = unquote(words[0].text(src))
		spec.Exported = spec.Local
		if len(words) >= 3 && words[1].is(src, "as") {
			spec.Exported = unquote(words[2].text(src))
		}
		specs = append(specs, spec)
		cur = cur[:0]
	}

	for {
		t := l.next()
		switch {
		case t.kind == tokEOF:
			build()
			return specs, t.end
		case t.punct(src) == '}':
			build()
			return specs, t.end
		case t.punct(src) == ',':
			build()
		default:
			cur = append(cur, t)
		}
	}
}

// clauseTail reads an optional `from "source"` plus semicolon.
func clauseTail(l *lexer) (string, int) {
	src := l.src
	end := l.last.end
	source := ""
	if p := l.peek(); p.kind == tokIdent && p.is(src, "from") {
		l.next()
		s := l.next()
		source = unquote(s.text(src))
		end = s.end
		// import attributes: from "x" with { type: "json" }
		if p := l.peek(); p.kind == tokIdent && (p.is(src, "with") || p.is(src, "assert")) && !p.newlineBefore {
			l.next()
			if l.next().punct(src) == '{' {
				end = matchBrace(l)
			}
		}
	}
	return source, withSemicolon(src, end)
}

// withSemicolon extends end over an immediately following semicolon.
func withSemicolon(src []byte, end int) int {
	i := end
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	if i < len(src) && src[i] == ';' {
		return i + 1
	}
	return end
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
