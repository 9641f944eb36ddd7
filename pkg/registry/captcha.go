package registry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// captchaIndicators are the phrases that mark a challenge or block page.
// Matched case-insensitively against full page source.
var captchaIndicators = []string{
	"captcha",
	"what code is in the image",
	"access denied",
	"support id",
}

// DetectCaptcha reports whether a page looks like a CAPTCHA or block page.
func DetectCaptcha(html string) bool {
	lower := strings.ToLower(html)
	for _, ind := range captchaIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// Choice is the operator's answer to a blocking prompt.
type Choice int

const (
	ChoiceContinue Choice = iota
	ChoiceSkip
	ChoiceQuit
)

// Prompter is the capability the driver consumes when it needs a human.
// Production uses a blocking stdin read; tests inject a script.
type Prompter interface {
	Prompt(message string) (Choice, error)
}

// StdinPrompter reads one-word answers from an input stream, ringing the
// terminal bell first when the output is a TTY.
type StdinPrompter struct {
	In  io.Reader
	Out io.Writer
}

func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *StdinPrompter) Prompt(message string) (Choice, error) {
	if f, ok := p.Out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprint(p.Out, "\a")
	}
	reader := bufio.NewReader(p.In)
	for {
		fmt.Fprintf(p.Out, "%s [continue/skip/quit]: ", message)
		line, err := reader.ReadString('\n')
		if err != nil {
			return ChoiceQuit, fmt.Errorf("read prompt answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "continue", "c", "":
			return ChoiceContinue, nil
		case "skip", "s":
			return ChoiceSkip, nil
		case "quit", "q":
			return ChoiceQuit, nil
		}
		fmt.Fprintln(p.Out, "answer continue, skip or quit")
	}
}

// ScriptedPrompter replays a fixed sequence of choices; for tests and for
// unattended runs that should always skip.
type ScriptedPrompter struct {
	Choices []Choice
	next    int
}

func (p *ScriptedPrompter) Prompt(string) (Choice, error) {
	if p.next >= len(p.Choices) {
		return ChoiceQuit, nil
	}
	c := p.Choices[p.next]
	p.next++
	return c, nil
}
