// Package subset is the boundary to the external font subsetter. The
// service treats the subsetting algorithm as opaque: it derives the
// character set from the task's options, shells out to the subsetter
// binary, and classifies whatever comes back.
package subset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"typetrim/errs"
	"typetrim/models"
)

type Result struct {
	OriginalSize int64
	NewSize      int64
}

// Transformer is the contract the task worker blocks on. The call may be
// slow for large inputs; callers bound it with a context deadline.
type Transformer interface {
	Transform(ctx context.Context, inputPath, outputPath string, opts models.Options) (Result, error)
}

// Layout tables and per-glyph extras the original tool always drops to
// minimize output size.
var dropTables = []string{
	"GPOS", "GSUB", "kern", "morx", "feat", "lcar",
	"gvar", "cvar", "JSTF", "MATH", "COLR", "CPAL", "sbix", "STAT",
}

var featureOptions = map[string][]string{
	"ligatures":   {"liga"},
	"fractions":   {"frac"},
	"superscript": {"sups", "subs"},
}

type Subsetter struct {
	bin    string
	logger *zap.Logger
}

func NewSubsetter(bin string, logger *zap.Logger) *Subsetter {
	return &Subsetter{bin: bin, logger: logger}
}

func (s *Subsetter) Transform(ctx context.Context, inputPath, outputPath string, opts models.Options) (Result, error) {
	runes := Charset(opts)
	if len(runes) == 0 {
		return Result{}, errs.Transform("empty selection: no characters chosen to keep", nil)
	}

	args := s.buildArgs(inputPath, outputPath, runes, opts)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.bin, args...)
	cmd.Stderr = &stderr
	// Orphaned children of a killed subsetter must not pin the stderr
	// pipe open past cancellation.
	cmd.WaitDelay = time.Second

	s.logger.Debug("running subsetter",
		zap.String("bin", s.bin),
		zap.Int("charset_size", len(runes)),
	)

	if err := cmd.Run(); err != nil {
		return Result{}, s.classify(ctx, err, stderr.String())
	}

	originalSize, err := fileSize(inputPath)
	if err != nil {
		return Result{}, errs.Storage("failed to read input size", err)
	}
	newSize, err := fileSize(outputPath)
	if err != nil {
		return Result{}, errs.Transform("subsetter produced no output", err)
	}

	return Result{OriginalSize: originalSize, NewSize: newSize}, nil
}

func (s *Subsetter) buildArgs(inputPath, outputPath string, runes []rune, opts models.Options) []string {
	features := []string{"kern"}
	for key, tags := range featureOptions {
		if opts.Bool(key) {
			features = append(features, tags...)
		}
	}

	return []string{
		inputPath,
		"--output-file=" + outputPath,
		"--unicodes=" + unicodeRanges(runes),
		"--layout-features=" + strings.Join(features, ","),
		"--drop-tables+=" + strings.Join(dropTables, ","),
		"--name-IDs=1,2",
		"--notdef-outline",
		"--desubroutinize",
		"--no-hinting",
	}
}

// classify maps a raw subsetter failure into the external taxonomy. The
// raw stderr goes to the logs; only a trimmed first line reaches callers.
func (s *Subsetter) classify(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Transform("subsetting timed out", ctx.Err())
	}
	if errors.Is(err, exec.ErrNotFound) {
		return errs.Transform("subsetter is not available", err)
	}

	s.logger.Error("subsetter failed",
		zap.String("bin", s.bin),
		zap.String("stderr", stderr),
		zap.Error(err),
	)

	line := stderr
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return errs.Transform("font could not be subset", err)
	}
	return errs.Transform("font could not be subset: "+line, err)
}

// unicodeRanges renders sorted code points as the subsetter's compact
// range syntax, e.g. "20,30-39,4e00-9fff".
func unicodeRanges(runes []rune) string {
	var b strings.Builder
	for i := 0; i < len(runes); {
		j := i
		for j+1 < len(runes) && runes[j+1] == runes[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if i == j {
			fmt.Fprintf(&b, "%x", runes[i])
		} else {
			fmt.Fprintf(&b, "%x-%x", runes[i], runes[j])
		}
		i = j + 1
	}
	return b.String()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
