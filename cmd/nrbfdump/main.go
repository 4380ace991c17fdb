// nrbfdump decodes an NRBF payload and prints its record graph.
//
// Usage:
//
//	nrbfdump [flags] [file]
//
// The payload is read from file, or stdin when no file is given. With
// --encode-string the tool works the other way and writes a payload
// holding one string.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/unkn0wn-root/nrbf"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	configPath   string
	format       string
	output       string
	encodeString string
	verbose      bool

	lenient     bool
	forwardRefs bool
	maxDepth    int
	maxArrayLen int
	maxStrLen   int
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var cfg config
	fs := pflag.NewFlagSet("nrbfdump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.configPath, "config", "", "YAML decode options file")
	fs.StringVarP(&cfg.format, "format", "f", "text", "output format: text|summary|cbor")
	fs.StringVarP(&cfg.output, "output", "o", "", "write output to this file instead of stdout")
	fs.StringVar(&cfg.encodeString, "encode-string", "", "write a payload holding this string and exit")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "debug logging to stderr")
	fs.BoolVar(&cfg.lenient, "lenient", false, "parse type names leniently")
	fs.BoolVar(&cfg.forwardRefs, "forward-refs", false, "allow references to records that appear later")
	fs.IntVar(&cfg.maxDepth, "max-depth", 0, "maximum nesting depth (0 keeps the configured value)")
	fs.IntVar(&cfg.maxArrayLen, "max-array-length", 0, "maximum array length (0 keeps the configured value)")
	fs.IntVar(&cfg.maxStrLen, "max-string-length", 0, "maximum string length in bytes (0 keeps the configured value)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(1))
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	out := stdout
	if cfg.output != "" {
		f, err := os.Create(cfg.output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if fs.Changed("encode-string") {
		return nrbf.WriteString(out, cfg.encodeString)
	}

	opts, err := loadOptions(fs, cfg)
	if err != nil {
		return err
	}
	opts.Logger = logger

	in := stdin
	if fs.NArg() == 1 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	g, err := nrbf.DecodeGraph(bufio.NewReader(in), &opts)
	if err != nil {
		return err
	}
	logger.Debug("decoded payload", "records", g.Len(), "root", g.Root().RecordType())

	switch cfg.format {
	case "text":
		return dumpText(out, g)
	case "summary":
		return dumpSummary(out, g)
	case "cbor":
		s, err := nrbf.Export(g)
		if err != nil {
			return err
		}
		data, err := s.Marshal()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	return fmt.Errorf("unknown format %q", cfg.format)
}

// loadOptions reads the options file, then applies flag overrides.
func loadOptions(fs *pflag.FlagSet, cfg config) (nrbf.Options, error) {
	opts := nrbf.DefaultOptions()
	if cfg.configPath != "" {
		var err error
		if opts, err = nrbf.LoadOptions(cfg.configPath); err != nil {
			return nrbf.Options{}, err
		}
	}
	if fs.Changed("lenient") && cfg.lenient {
		opts.TypeNameParsing = nrbf.TypeNameLenient
	}
	if fs.Changed("forward-refs") {
		opts.AllowForwardReferences = cfg.forwardRefs
	}
	if cfg.maxDepth > 0 {
		opts.MaxDepth = cfg.maxDepth
	}
	if cfg.maxArrayLen > 0 {
		opts.MaxArrayLength = cfg.maxArrayLen
	}
	if cfg.maxStrLen > 0 {
		opts.MaxStringLength = cfg.maxStrLen
	}
	return opts, opts.Validate()
}
