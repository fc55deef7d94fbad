package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Runner lets tests stub out external commands
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractConfig configures the tesseract command line engine
type TesseractConfig struct {
	Binary      string // name or path; defaults to "tesseract"
	Language    string // defaults to "eng"
	TessdataDir string
	PSM         int // page segmentation mode, 0 leaves tesseract's default
}

// Tesseract runs the tesseract CLI. The binary path is resolved once when the
// engine is created and nothing about the engine changes afterwards.
type Tesseract struct {
	binary string
	args   []string
	runner Runner
}

// reBoxNoise strips runs of box-drawing and separator characters tesseract
// emits for table rules
var reBoxNoise = regexp.MustCompile(`[|_=~]{3,}`)

// NewTesseract resolves the tesseract binary and builds the engine
func NewTesseract(cfg TesseractConfig) (*Tesseract, error) {
	return newTesseract(cfg, execRunner{}, exec.LookPath)
}

func newTesseract(cfg TesseractConfig, runner Runner, lookPath func(string) (string, error)) (*Tesseract, error) {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	binary, err := lookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("finding tesseract binary %q: %w", cfg.Binary, err)
	}

	args := []string{"-l", cfg.Language}
	if cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", cfg.TessdataDir)
	}
	if cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(cfg.PSM))
	}

	return &Tesseract{binary: binary, args: args, runner: runner}, nil
}

// Recognize runs `tesseract <image> stdout` and returns the transcript
func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	args := append([]string{imagePath, "stdout"}, t.args...)
	out, errb, err := t.runner.Run(ctx, t.binary, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}
	return reBoxNoise.ReplaceAllString(string(out), " "), nil
}

// Close is a no-op; the engine holds no resources
func (t *Tesseract) Close() error {
	return nil
}
