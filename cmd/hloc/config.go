package main

import (
	"flag"
	"io"

	"github.com/hupe1980/hloc"
)

func runConfig(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "-", "output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *out == "-" {
		return hloc.WriteConfig(stdout, hloc.DefaultConfig())
	}
	return hloc.SaveConfig(*out, hloc.DefaultConfig())
}
