// Copyright 2026 The Zff Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/term"
)

// ReadPassphraseFile reads a passphrase from a file, or from stdin when path
// is "-". Surrounding whitespace (including the trailing newline of a typical
// passphrase file) is trimmed. The returned buffer must be closed by the
// caller.
func ReadPassphraseFile(path string) (*Buffer, error) {
	var data []byte
	var err error

	if path == "-" {
		data, err = readLine(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("passphrase is empty")
	}

	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	return buffer, err
}

// PromptPassphrase reads a passphrase from the controlling terminal with
// echo disabled. The returned buffer must be closed by the caller.
func PromptPassphrase(prompt string) (*Buffer, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase from terminal: %w", err)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}
	return NewFromBytes(line)
}

// readLine reads a single line from f without requiring a terminal.
func readLine(f *os.File) ([]byte, error) {
	var line []byte
	var single [1]byte
	for {
		n, err := f.Read(single[:])
		if n > 0 {
			if single[0] == '\n' {
				break
			}
			line = append(line, single[0])
		}
		if err != nil {
			if len(line) > 0 {
				break
			}
			return nil, err
		}
	}
	return line, nil
}
