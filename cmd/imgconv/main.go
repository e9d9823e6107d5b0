package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dunamismax/pixelconv/internal/codec/jpeg"
	"github.com/dunamismax/pixelconv/internal/convert"
)

const (
	exitOK = iota
	exitUsage
	exitUnknownInput
	exitUnknownOutput
	exitLoad
	exitSave
)

func main() {
	if err := jpeg.Startup(); err != nil {
		log.New(os.Stderr, "[imgconv] ", log.LstdFlags|log.Lmsgprefix).Fatalf("codec startup failed: %v", err)
	}
	code := run(context.Background(), os.Args, os.Stdout, os.Stderr)
	jpeg.Shutdown()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		prog := "imgconv"
		if len(args) > 0 {
			prog = filepath.Base(args[0])
		}
		fmt.Fprintf(stderr, "Usage: %s <in_file> <out_file>\n", prog)
		return exitUsage
	}

	logger := log.New(stderr, "[imgconv] ", log.LstdFlags|log.Lmsgprefix)

	res, err := convert.New().Convert(ctx, args[1], args[2])
	if err != nil {
		code, message := describe(err)
		fmt.Fprintln(stderr, message)
		logger.Printf("conversion failed kind=%s in=%s out=%s err=%v", convert.FailureKind(err), args[1], args[2], err)
		return code
	}

	fmt.Fprintln(stdout, "Successfully converted")
	logger.Printf(
		"converted in=%s format=%s out=%s format=%s size=%dx%d bytes=%d",
		args[1], res.InputFormat, args[2], res.OutputFormat, res.Width, res.Height, res.Bytes,
	)
	return exitOK
}

func describe(err error) (int, string) {
	switch {
	case errors.Is(err, convert.ErrUnknownInput):
		return exitUnknownInput, "Unknown format of the input file"
	case errors.Is(err, convert.ErrUnknownOutput):
		return exitUnknownOutput, "Unknown format of the output file"
	case errors.Is(err, convert.ErrLoad):
		return exitLoad, "Loading failed"
	default:
		return exitSave, "Saving failed"
	}
}
