package nrbf

import (
	"strconv"
	"strings"
)

// TypeNameMode controls how strictly class and member type names are
// parsed. Parsing is purely syntactic; a name is never bound to a Go type
// by the decoder.
type TypeNameMode uint8

const (
	// TypeNameStrict rejects padded, oversized or malformed names.
	TypeNameStrict TypeNameMode = iota
	// TypeNameLenient only rejects empty names and falls back to the raw
	// text when the structure cannot be parsed.
	TypeNameLenient
)

// MaxTypeNameLength bounds names in strict mode.
const MaxTypeNameLength = 2048

// TypeName is a parsed, possibly assembly-qualified type name such as
// "System.Collections.Generic.List`1[[System.String, mscorlib]]".
type TypeName struct {
	FullName    string // namespace, name, generic args and array suffix
	Namespace   string
	Name        string
	Assembly    string
	GenericArgs []TypeName
	ArrayRank   int
}

// ParseTypeName parses s according to mode.
func ParseTypeName(s string, mode TypeNameMode) (TypeName, error) {
	if strings.TrimSpace(s) == "" {
		return TypeName{}, detail(ErrInvalidTypeName, "empty name")
	}
	if mode == TypeNameStrict {
		if len(s) > MaxTypeNameLength {
			return TypeName{}, detail(ErrInvalidTypeName, "name longer than %d bytes", MaxTypeNameLength)
		}
		if s != strings.TrimSpace(s) {
			return TypeName{}, detail(ErrInvalidTypeName, "surrounding whitespace in %q", s)
		}
		for i := 0; i < len(s); i++ {
			if s[i] < 0x20 || s[i] == 0x7f {
				return TypeName{}, detail(ErrInvalidTypeName, "control character at %d", i)
			}
		}
	}

	tn, err := parseQualified(s, mode == TypeNameStrict)
	if err != nil {
		if mode == TypeNameStrict {
			return TypeName{}, err
		}
		raw := strings.TrimSpace(s)
		tn = TypeName{FullName: raw}
		tn.Namespace, tn.Name = splitNamespace(raw)
	}
	return tn, nil
}

// parseQualified parses "type[, assembly]".
func parseQualified(s string, strict bool) (TypeName, error) {
	typePart, asm, err := splitTopLevelComma(s)
	if err != nil {
		return TypeName{}, err
	}
	tn, err := parseTypePart(strings.TrimSpace(typePart), strict)
	if err != nil {
		return TypeName{}, err
	}
	tn.Assembly = strings.TrimSpace(asm)
	if strict && asm != "" && tn.Assembly == "" {
		return TypeName{}, detail(ErrInvalidTypeName, "empty assembly name in %q", s)
	}
	return tn, nil
}

// splitTopLevelComma splits s at the first comma outside brackets.
func splitTopLevelComma(s string) (string, string, error) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return "", "", detail(ErrInvalidTypeName, "unbalanced ']' in %q", s)
			}
		case ',':
			if depth == 0 {
				return s[:i], s[i+1:], nil
			}
		}
	}
	if depth != 0 {
		return "", "", detail(ErrInvalidTypeName, "unbalanced '[' in %q", s)
	}
	return s, "", nil
}

func parseTypePart(s string, strict bool) (TypeName, error) {
	base := s
	rest := ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		base, rest = s[:i], s[i:]
	}
	if base == "" || strings.ContainsAny(base, "], ") && strict {
		return TypeName{}, detail(ErrInvalidTypeName, "bad type name %q", s)
	}

	tn := TypeName{}
	tn.Namespace, tn.Name = splitNamespace(base)

	if isGenericOpen(rest) {
		end := matchBracket(rest)
		if end < 0 {
			return TypeName{}, detail(ErrInvalidTypeName, "unbalanced generic arguments in %q", s)
		}
		args, err := parseGenericArgs(rest[1:end], strict)
		if err != nil {
			return TypeName{}, err
		}
		if strict {
			if arity, ok := genericArity(base); ok && arity != len(args) {
				return TypeName{}, detail(ErrInvalidTypeName, "%q declares %d generic arguments, got %d", base, arity, len(args))
			}
		}
		tn.GenericArgs = args
		rest = rest[end+1:]
	}

	for rest != "" {
		if !strings.HasPrefix(rest, "[") {
			return TypeName{}, detail(ErrInvalidTypeName, "unexpected %q after type name", rest)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return TypeName{}, detail(ErrInvalidTypeName, "unterminated array suffix in %q", s)
		}
		inner := rest[1:end]
		if strings.Trim(inner, ",*") != "" {
			return TypeName{}, detail(ErrInvalidTypeName, "bad array suffix %q", rest[:end+1])
		}
		tn.ArrayRank = strings.Count(inner, ",") + 1
		rest = rest[end+1:]
	}

	tn.FullName = s
	return tn, nil
}

// isGenericOpen distinguishes "[[T]]" or "[T]" from "[]", "[,]" and "[*]".
func isGenericOpen(rest string) bool {
	if len(rest) < 2 || rest[0] != '[' {
		return false
	}
	switch rest[1] {
	case ']', ',', '*':
		return false
	}
	return true
}

// matchBracket returns the index of the bracket closing s[0].
func matchBracket(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseGenericArgs(s string, strict bool) ([]TypeName, error) {
	var args []TypeName
	for s != "" {
		var arg string
		if s[0] == '[' {
			end := matchBracket(s)
			if end < 0 {
				return nil, detail(ErrInvalidTypeName, "unbalanced generic argument %q", s)
			}
			arg, s = s[1:end], s[end+1:]
		} else {
			i := strings.IndexByte(s, ',')
			if i < 0 {
				i = len(s)
			}
			arg, s = s[:i], s[i:]
		}
		tn, err := parseQualified(strings.TrimSpace(arg), strict)
		if err != nil {
			return nil, err
		}
		args = append(args, tn)
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, ",") {
			s = strings.TrimSpace(s[1:])
			if s == "" {
				return nil, detail(ErrInvalidTypeName, "trailing comma in generic arguments")
			}
		} else if s != "" {
			return nil, detail(ErrInvalidTypeName, "unexpected %q in generic arguments", s)
		}
	}
	return args, nil
}

// genericArity reads the "`N" suffix of a generic type definition.
func genericArity(base string) (int, bool) {
	i := strings.LastIndexByte(base, '`')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitNamespace splits at the last '.' before any nested-type '+'.
func splitNamespace(base string) (string, string) {
	outer := base
	if i := strings.IndexByte(base, '+'); i >= 0 {
		outer = base[:i]
	}
	if i := strings.LastIndexByte(outer, '.'); i >= 0 {
		return base[:i], base[i+1:]
	}
	return "", base
}
