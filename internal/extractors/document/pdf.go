package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrPDFToolNotFound indicates pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions explains how to install pdftotext.
func InstallInstructions() string {
	return "PDF extraction requires pdftotext (poppler).\n" +
		"  macOS:  brew install poppler\n" +
		"  Debian: apt-get install poppler-utils\n" +
		"  Fedora: dnf install poppler-utils"
}

// parsePDF writes the bytes to a temp file and runs pdftotext over it.
// pdftotext separates pages with form feeds; each page is prefixed with
// a "--- Page N ---" marker.
func (e *Extractor) parsePDF(ctx context.Context, content []byte) (parsed, error) {
	if !bytes.HasPrefix(content, []byte("%PDF")) {
		return parsed{}, errors.New("not a PDF file")
	}

	tmp, err := os.CreateTemp("", "knowledgehub-*.pdf")
	if err != nil {
		return parsed{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return parsed{}, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return parsed{}, fmt.Errorf("close temp file: %w", err)
	}

	out, err := e.runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return parsed{}, err
		}
		return parsed{}, fmt.Errorf("pdftotext failed: %w", err)
	}
	return splitPages(string(out)), nil
}

func splitPages(out string) parsed {
	pages := strings.Split(out, "\f")
	var b strings.Builder
	n := 0
	for _, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		n++
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Page %d ---\n%s", n, page)
	}
	return parsed{text: b.String(), pages: n}
}
