package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tanq16/siphon/internal/output"
	"github.com/tanq16/siphon/internal/store"
	"golang.org/x/term"
)

var _ store.Prompter = (*Prompter)(nil)

// Prompter asks storage questions on a line-oriented terminal.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewPrompter reads answers from in. Without an interactive terminal every
// question is declined.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	interactive := true
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (p *Prompter) RequestRoot(ctx context.Context) (string, error) {
	return p.ask(ctx, "Directory or s3://bucket/prefix to save downloads in (empty to decline): ")
}

func (p *Prompter) SaveAs(ctx context.Context, suggested string) (string, error) {
	answer, err := p.ask(ctx, fmt.Sprintf("Save as [%s] (\"-\" to decline): ", suggested))
	if err != nil {
		return "", err
	}
	switch answer {
	case "":
		return suggested, nil
	case "-":
		return "", nil
	}
	return answer, nil
}

func (p *Prompter) ask(ctx context.Context, question string) (string, error) {
	if !p.interactive {
		return "", nil
	}
	fmt.Fprint(p.out, output.FInfo(question))
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- answer{strings.TrimSpace(line), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if a.err == io.EOF {
			return "", nil
		}
		return a.line, a.err
	}
}
