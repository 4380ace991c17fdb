package nrbf

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Default nesting bound used by DefaultOptions. Inline records nest on
	// the Go stack, so a payload of only class headers must not recurse
	// without bound.
	defaultMaxDepth = 1000
)

// Options configures a decode. Decode copies the value it is given, so one
// Options may be shared by concurrent decodes. Zero limits mean unlimited.
type Options struct {
	TypeNameParsing TypeNameMode `yaml:"type_name_parsing"`

	MaxMemberCount  int `yaml:"max_member_count"`
	MaxArrayLength  int `yaml:"max_array_length"`
	MaxArrayRank    int `yaml:"max_array_rank"`
	MaxStringLength int `yaml:"max_string_length"`
	MaxDepth        int `yaml:"max_depth"`

	DisallowOffsetArrays bool `yaml:"disallow_offset_arrays"`
	DisallowJaggedArrays bool `yaml:"disallow_jagged_arrays"`

	// AllowedRootTypes restricts the kind of the root record. Empty allows
	// every kind.
	AllowedRootTypes []RecordType `yaml:"allowed_root_types"`

	// AllowForwardReferences defers resolution of member references until
	// the end of the stream. By default a reference must name a record
	// that has already been read.
	AllowForwardReferences bool `yaml:"allow_forward_references"`

	// StrictNullRuns rejects null runs with a zero count.
	StrictNullRuns bool `yaml:"strict_null_runs"`

	// MaxNullSlots caps the slots that null runs may expand to in one
	// decode. Unlike the other limits, zero does not mean unlimited: it
	// selects a budget of 64Ki slots plus 64 per byte read.
	MaxNullSlots int `yaml:"max_null_slots"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultOptions returns permissive limits with strict type-name parsing.
func DefaultOptions() Options {
	return Options{
		TypeNameParsing: TypeNameStrict,
		MaxDepth:        defaultMaxDepth,
	}
}

// Validate reports negative limits.
func (o Options) Validate() error {
	limits := map[string]int{
		"max_member_count":  o.MaxMemberCount,
		"max_array_length":  o.MaxArrayLength,
		"max_array_rank":    o.MaxArrayRank,
		"max_string_length": o.MaxStringLength,
		"max_depth":         o.MaxDepth,
		"max_null_slots":    o.MaxNullSlots,
	}
	for name, v := range limits {
		if v < 0 {
			return fmt.Errorf("invalid options: %s is negative (%d)", name, v)
		}
	}
	if o.TypeNameParsing > TypeNameLenient {
		return fmt.Errorf("invalid options: unknown type name mode %d", o.TypeNameParsing)
	}
	return nil
}

func (o Options) rootAllowed(t RecordType) bool {
	if len(o.AllowedRootTypes) == 0 {
		return true
	}
	for _, a := range o.AllowedRootTypes {
		if a == t {
			return true
		}
	}
	return false
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return discardLogger
}

var discardLogger = slog.New(discardHandler{})

// ParseOptions reads YAML on top of DefaultOptions.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads a YAML options file.
func LoadOptions(path string) (Options, error) {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Options{}, fmt.Errorf("invalid options path: %w", err)
		}
		path = abs
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options file: %w", err)
	}
	return ParseOptions(data)
}

// UnmarshalYAML accepts "strict" or "lenient".
func (m *TypeNameMode) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "", "strict":
		*m = TypeNameStrict
	case "lenient":
		*m = TypeNameLenient
	default:
		return fmt.Errorf("unknown type name mode %q", node.Value)
	}
	return nil
}

func (m TypeNameMode) String() string {
	if m == TypeNameLenient {
		return "lenient"
	}
	return "strict"
}

// UnmarshalYAML accepts record type names ("ClassWithMembersAndTypes") or
// their numeric tags.
func (t *RecordType) UnmarshalYAML(node *yaml.Node) error {
	for rt, name := range recordNames {
		if strings.EqualFold(name, node.Value) {
			*t = rt
			return nil
		}
	}
	var n uint8
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("unknown record type %q", node.Value)
	}
	*t = RecordType(n)
	return nil
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
