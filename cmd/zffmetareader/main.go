// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

// zffmetareader inspects, verifies and extracts segmented forensic
// image containers. It is the read-side consumer of the container
// format: the acquisition tool that writes containers lives elsewhere.
//
// Segments are passed as file arguments in split-number order. When a
// single file with the ".z01" extension is given, the remaining
// segments (".z02", ".z03", ...) are discovered next to it.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ph0llux/zff/lib/codec"
	"github.com/ph0llux/zff/lib/container"
	"github.com/ph0llux/zff/lib/secret"
	"github.com/ph0llux/zff/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "info":
		return runInfo(os.Args[2:])
	case "verify":
		return runVerify(os.Args[2:])
	case "extract":
		return runExtract(os.Args[2:])
	case "version", "--version":
		fmt.Printf("zffmetareader %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: zffmetareader <subcommand> [flags] <segment files...>

Subcommands:
  info      Decode and print the container metadata
  verify    Check every chunk and whole-image digest
  extract   Recover the plaintext image
  version   Print version information

Run 'zffmetareader <subcommand> --help' for subcommand flags.
`)
}

// newLogger matches the output channel: human-readable text on a
// terminal, JSON when stderr is piped.
func newLogger() *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	passwordFile   string
	promptPassword bool
}

func (f *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.passwordFile, "password-file", "p", "", "read the passphrase from this file (\"-\" for stdin)")
	flagSet.BoolVar(&f.promptPassword, "prompt-password", false, "prompt for the passphrase on the terminal")
}

// passphrase resolves the configured passphrase source. Returns nil when
// none is configured; the caller decides whether that is an error.
func (f *commonFlags) passphrase() (*secret.Buffer, error) {
	if f.passwordFile != "" {
		return secret.ReadPassphraseFile(f.passwordFile)
	}
	if f.promptPassword {
		return secret.PromptPassphrase("Passphrase: ")
	}
	return nil, nil
}

// openContainer opens the segment files and the container, returning the
// resolved segment paths alongside. The returned cleanup closes the segment
// files; the caller closes the container.
func openContainer(paths []string, flags *commonFlags) (*container.Container, []string, func(), error) {
	segments, err := discoverSegments(paths)
	if err != nil {
		return nil, nil, nil, err
	}

	var files []*os.File
	cleanup := func() {
		for _, file := range files {
			file.Close()
		}
	}
	streams := make([]io.Reader, 0, len(segments))
	for _, path := range segments {
		file, err := os.Open(path)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		files = append(files, file)
		streams = append(streams, file)
	}

	passphrase, err := flags.passphrase()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	var passphraseBytes []byte
	if passphrase != nil {
		defer passphrase.Close()
		passphraseBytes = passphrase.Bytes()
	}

	c, err := container.OpenContainer(streams, passphraseBytes)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return c, segments, cleanup, nil
}

// discoverSegments expands a single ".z01" path into the full segment
// sequence by probing sibling files. Explicit multi-file arguments are
// taken as given, in order.
func discoverSegments(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one segment file required")
	}
	if len(paths) > 1 || !strings.HasSuffix(paths[0], ".z01") {
		return paths, nil
	}

	base := strings.TrimSuffix(paths[0], ".z01")
	segments := []string{paths[0]}
	for number := 2; ; number++ {
		candidate := fmt.Sprintf("%s.z%02d", base, number)
		if _, err := os.Stat(candidate); err != nil {
			break
		}
		segments = append(segments, candidate)
	}
	return segments, nil
}

// metadataDocument is the serializable view of a decoded main header.
type metadataDocument struct {
	Identifier       string   `json:"identifier" yaml:"identifier" cbor:"identifier"`
	Segments         int      `json:"segments" yaml:"segments" cbor:"segments"`
	ChunkSize        uint64   `json:"chunk_size" yaml:"chunk_size" cbor:"chunk_size"`
	SplitSize        uint64   `json:"split_size" yaml:"split_size" cbor:"split_size"`
	DataLength       uint64   `json:"data_length" yaml:"data_length" cbor:"data_length"`
	Compression      string   `json:"compression" yaml:"compression" cbor:"compression"`
	CompressionLevel uint8    `json:"compression_level" yaml:"compression_level" cbor:"compression_level"`
	Encrypted        bool     `json:"encrypted" yaml:"encrypted" cbor:"encrypted"`
	CaseNumber       string   `json:"case_number,omitempty" yaml:"case_number,omitempty" cbor:"case_number,omitempty"`
	EvidenceNumber   string   `json:"evidence_number,omitempty" yaml:"evidence_number,omitempty" cbor:"evidence_number,omitempty"`
	ExaminerName     string   `json:"examiner_name,omitempty" yaml:"examiner_name,omitempty" cbor:"examiner_name,omitempty"`
	Notes            string   `json:"notes,omitempty" yaml:"notes,omitempty" cbor:"notes,omitempty"`
	AcquisitionDate  uint64   `json:"acquisition_date,omitempty" yaml:"acquisition_date,omitempty" cbor:"acquisition_date,omitempty"`
	Hashes           []digest `json:"hashes,omitempty" yaml:"hashes,omitempty" cbor:"hashes,omitempty"`
}

type digest struct {
	Algorithm string `json:"algorithm" yaml:"algorithm" cbor:"algorithm"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty" cbor:"digest,omitempty"`
}

func buildMetadata(c *container.Container, segments int) metadataDocument {
	h := c.Header
	document := metadataDocument{
		Identifier:       fmt.Sprintf("%016x", h.Split.UniqueIdentifier),
		Segments:         segments,
		ChunkSize:        h.ChunkSize,
		SplitSize:        h.SplitSize,
		DataLength:       h.DataLength,
		Compression:      h.Compression.Algorithm.String(),
		CompressionLevel: h.Compression.Level,
		Encrypted:        c.Encrypted(),
		CaseNumber:       h.Description.CaseNumber,
		EvidenceNumber:   h.Description.EvidenceNumber,
		ExaminerName:     h.Description.ExaminerName,
		Notes:            h.Description.Notes,
		AcquisitionDate:  h.Description.AcquisitionDate,
	}
	for _, value := range h.Hash.Values {
		document.Hashes = append(document.Hashes, digest{
			Algorithm: value.Algorithm.String(),
			Digest:    fmt.Sprintf("%x", value.Digest),
		})
	}
	return document
}

func runInfo(args []string) error {
	var flags commonFlags
	var format string

	flagSet := pflag.NewFlagSet("zffmetareader info", pflag.ContinueOnError)
	flags.register(flagSet)
	flagSet.StringVarP(&format, "format", "f", "yaml", "output format: yaml, json or cbor")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		return fmt.Errorf("segment file required")
	}

	c, segments, cleanup, err := openContainer(flagSet.Args(), &flags)
	if err != nil {
		return err
	}
	defer cleanup()
	defer c.Close()

	document := buildMetadata(c, len(segments))

	switch format {
	case "yaml":
		encoded, err := yaml.Marshal(document)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(encoded)
		return err
	case "json":
		encoded, err := json.MarshalIndent(document, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Println(string(encoded))
		return err
	case "cbor":
		encoded, err := codec.Marshal(document)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(encoded)
		return err
	default:
		return fmt.Errorf("unknown output format: %q", format)
	}
}

func runVerify(args []string) error {
	var flags commonFlags
	var failFast bool

	flagSet := pflag.NewFlagSet("zffmetareader verify", pflag.ContinueOnError)
	flags.register(flagSet)
	flagSet.BoolVar(&failFast, "fail-fast", false, "stop at the first integrity failure")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		return fmt.Errorf("segment file required")
	}

	logger := newLogger()
	c, _, cleanup, err := openContainer(flagSet.Args(), &flags)
	if err != nil {
		return err
	}
	defer cleanup()
	defer c.Close()

	result, err := c.Verify(container.ExtractOptions{FailFast: failFast})
	if err != nil {
		return fmt.Errorf("container unusable: %w", err)
	}

	if result.Clean() {
		logger.Info("container verified",
			"identifier", fmt.Sprintf("%016x", c.Header.Split.UniqueIdentifier),
			"data_length", c.Header.DataLength)
		return nil
	}
	for _, issue := range result.Issues {
		logger.Warn("integrity issue", "scope", issue.String())
	}
	return fmt.Errorf("container usable with %d integrity warnings", len(result.Issues))
}

func runExtract(args []string) error {
	var flags commonFlags
	var outputPath string
	var failFast bool

	flagSet := pflag.NewFlagSet("zffmetareader extract", pflag.ContinueOnError)
	flags.register(flagSet)
	flagSet.StringVarP(&outputPath, "output", "o", "", "write the recovered image to this file (\"-\" for stdout)")
	flagSet.BoolVar(&failFast, "fail-fast", false, "stop at the first integrity failure")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		return fmt.Errorf("segment file required")
	}
	if outputPath == "" {
		return fmt.Errorf("--output required")
	}

	logger := newLogger()
	c, _, cleanup, err := openContainer(flagSet.Args(), &flags)
	if err != nil {
		return err
	}
	defer cleanup()
	defer c.Close()

	output := os.Stdout
	if outputPath != "-" {
		output, err = os.Create(outputPath)
		if err != nil {
			return err
		}
	}

	result, err := c.Extract(output, container.ExtractOptions{FailFast: failFast})
	if closeErr := closeOutput(output); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("container unusable: %w", err)
	}

	for _, issue := range result.Issues {
		logger.Warn("integrity issue", "scope", issue.String())
	}
	logger.Info("image extracted",
		"identifier", fmt.Sprintf("%016x", c.Header.Split.UniqueIdentifier),
		"data_length", c.Header.DataLength,
		"warnings", len(result.Issues))
	if !result.Clean() {
		return fmt.Errorf("image extracted with %d integrity warnings", len(result.Issues))
	}
	return nil
}

func closeOutput(output *os.File) error {
	if output == os.Stdout {
		return nil
	}
	return output.Close()
}
