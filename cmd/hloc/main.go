// Command hloc localizes query images against a packed map.
//
// Usage:
//
//	hloc localize -map DIR|s3://bucket/prefix|minio://host/bucket/prefix -queries DIR [flags]
//	hloc pack -model DIR -features DIR -map DIR [-compression lz4|zstd|none]
//	hloc config [-out FILE]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "hloc:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stderr)
		return flag.ErrHelp
	}

	switch args[0] {
	case "localize":
		return runLocalize(ctx, args[1:], stdout, stderr)
	case "pack":
		return runPack(ctx, args[1:], stdout, stderr)
	case "config":
		return runConfig(args[1:], stdout, stderr)
	case "-h", "-help", "--help", "help":
		usage(stdout)
		return nil
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: hloc <command> [flags]

commands:
  localize  localize queries against a map
  pack      convert a COLMAP model and feature dumps into a map
  config    write the default configuration

Run "hloc <command> -h" for the flags of a command.`)
}
