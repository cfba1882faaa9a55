package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter reads answers line by line from an input stream.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPrompter returns a Prompter reading from in and printing labels to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(in), out: out}
}

// Line prints label and returns the next input line, trimmed. ok is false
// when the input is exhausted.
func (p *Prompter) Line(label string) (line string, ok bool) {
	if label != "" {
		fmt.Fprint(p.out, label)
	}
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// Secret asks for a value twice and fails when the answers differ or are empty.
func (p *Prompter) Secret(label string) (string, error) {
	first, ok := p.Line(label + ": ")
	if !ok || first == "" {
		return "", fmt.Errorf("%s is required", label)
	}
	second, ok := p.Line("Repeat " + strings.ToLower(label) + ": ")
	if !ok || second != first {
		return "", fmt.Errorf("%s entries do not match", strings.ToLower(label))
	}
	return first, nil
}

// Confirm asks a yes/no question. Anything but y or yes is no.
func (p *Prompter) Confirm(question string) bool {
	answer, ok := p.Line(question + " [y/N]: ")
	if !ok {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}
