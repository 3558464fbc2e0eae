package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/XC-Zero/pngshrink"
)

type commandOptions struct {
	Input    string
	Output   string
	Preset   int
	Check    bool
	Pretend  bool
	Force    bool
	Fix      bool
	Alpha    bool
	StripAll bool
	Timeout  time.Duration
	Verbose  bool
}

var showHelper bool
var options commandOptions

func init() {
	flag.BoolVar(&showHelper, "h", false, "show this help")
	flag.StringVar(&options.Input, "i", "", "set source png `input` file")
	flag.StringVar(&options.Output, "o", "", "set optimized png `output` file (defaults to input)")
	flag.IntVar(&options.Preset, "p", 2, "optimization `preset` 0-6")
	flag.BoolVar(&options.Check, "check", false, "decode only, never write")
	flag.BoolVar(&options.Pretend, "pretend", false, "compute but do not write output")
	flag.BoolVar(&options.Force, "force", false, "write output even when larger")
	flag.BoolVar(&options.Fix, "fix", false, "tolerate recoverable decode errors")
	flag.BoolVar(&options.Alpha, "alpha", false, "allow altering fully transparent pixels")
	flag.BoolVar(&options.StripAll, "strip", false, "strip all ancillary chunks")
	flag.DurationVar(&options.Timeout, "timeout", 0, "maximum optimization `duration` (0 = none)")
	flag.BoolVar(&options.Verbose, "v", false, "verbose progress output")

	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(os.Stderr, `pngshrink: lossless png optimizer
Usage: pngshrink [-h] [-p preset] [-o filename] -i filename

Options:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if showHelper || options.Input == "" {
		flag.Usage()
		os.Exit(0)
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := pngshrink.OptionsFromPreset(options.Preset)
	opts.Check = options.Check
	opts.Pretend = options.Pretend
	opts.Force = options.Force
	opts.FixErrors = options.Fix
	opts.OptimizeAlpha = options.Alpha
	if options.StripAll {
		opts.Strip = pngshrink.StripAll()
	}
	if options.Timeout > 0 {
		t := options.Timeout
		opts.Timeout = &t
	}
	if options.Verbose {
		pngshrink.SetLogger(log.New(os.Stderr, "", 0))
	}

	input, err := os.ReadFile(options.Input)
	if err != nil {
		return err
	}
	output, err := pngshrink.Optimize(input, opts)
	if err != nil {
		return err
	}
	if opts.Check || opts.Pretend {
		fmt.Printf("%s: %d -> %d bytes\n", options.Input, len(input), len(output))
		return nil
	}

	outPath := options.Output
	if outPath == "" {
		outPath = options.Input
	}
	if err := os.WriteFile(outPath, output, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d -> %d bytes\n", outPath, len(input), len(output))
	return nil
}
