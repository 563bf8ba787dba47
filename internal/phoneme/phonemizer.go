package phoneme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// DefaultLocale is the espeak voice used for English narration.
const DefaultLocale = "en-us"

// DefaultCommand runs espeak-ng and reads the text from stdin.
const DefaultCommand = "espeak-ng -q --ipa -v {locale} --stdin"

const localePlaceholder = "{locale}"

// Phonemizer converts text to one or more IPA fragments.
type Phonemizer interface {
	Phonemize(ctx context.Context, text, locale string) ([]string, error)
}

// Normalize joins fragments with single spaces and collapses any run of
// whitespace into one space. The result has no leading or trailing space.
func Normalize(parts []string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// ExecPhonemizer shells out to an external G2P tool once per call.
type ExecPhonemizer struct {
	args []string
	mu   sync.Mutex
}

func NewExecPhonemizer(command string) (*ExecPhonemizer, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse phonemizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("phonemizer command empty")
	}
	return &ExecPhonemizer{args: args}, nil
}

// Binary reports the executable the phonemizer will invoke.
func (p *ExecPhonemizer) Binary() string {
	return p.args[0]
}

func (p *ExecPhonemizer) Phonemize(ctx context.Context, text, locale string) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(locale) == "" {
		locale = DefaultLocale
	}

	args := make([]string, 0, len(p.args))
	for _, a := range p.args {
		args = append(args, strings.ReplaceAll(a, localePlaceholder, locale))
	}

	// espeak-ng keeps per-process state; one invocation at a time.
	p.mu.Lock()
	defer p.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return nil, fmt.Errorf("phonemizer %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("phonemizer %s: %w: %s", args[0], err, detail)
	}

	var out []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// MockPhonemizer lowercases text so it maps onto the plain letter symbols.
// It is used when no G2P binary is installed.
type MockPhonemizer struct{}

func (MockPhonemizer) Phonemize(ctx context.Context, text, _ string) ([]string, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return strings.Split(strings.ToLower(text), "\n"), nil
}
