package tesseract

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner abstracts process execution so tests can stub the OCR binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// WithRunner swaps the process runner; intended for tests.
func (b *Backend) WithRunner(r Runner) *Backend {
	b.runner = r
	return b
}
