// Package confirm asks an operator to approve destructive commands.
package confirm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when approval is needed but stdin is not a
// terminal. Pass --yes to approve non-interactively.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// Confirmer approves or rejects an action.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// Prompt asks on a terminal and reads a y/N answer.
type Prompt struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
}

// NewTerminal prompts on stderr and reads stdin.
func NewTerminal() *Prompt {
	return &Prompt{
		In:          os.Stdin,
		Out:         os.Stderr,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Confirm implements Confirmer. Only "y" and "yes" approve.
func (p *Prompt) Confirm(prompt string) (bool, error) {
	if !p.Interactive {
		return false, ErrNotInteractive
	}

	fmt.Fprintf(p.Out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Always answers every prompt with the same decision, e.g. for --yes.
type Always bool

// Confirm implements Confirmer.
func (a Always) Confirm(string) (bool, error) {
	return bool(a), nil
}
