// Package packager turns a project file into a .7z delivery archive by
// running an external 7-Zip compatible executable.
package packager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/quicksave/internal/utils"
)

const (
	ArchiveExt        = ".7z"
	DefaultCompressor = "7z"
	jobDirPattern     = "job-*"
	maxStderrLen      = 4096
)

// maximum ratio, LZMA2
var compressionArgs = []string{"a", "-t7z", "-mx=9", "-m0=lzma2"}

// ExternalToolError is returned when the compressor cannot be launched or
// exits non-zero. ExitCode is -1 when the process never started.
type ExternalToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("compressor %s failed (exit %d)", filepath.Base(e.Tool), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// IOError is returned when the archive destination cannot be prepared.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("prepare archive %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Archive is a compressed project owned by one job.
type Archive struct {
	Path string
	// Dir is the job directory holding Path. It is removed with the archive.
	Dir string
}

// Remove deletes the archive and its job directory. Missing files are not an error.
func (a *Archive) Remove() error {
	if a.Dir != "" {
		return os.RemoveAll(a.Dir)
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Compressor produces an archive for a source file.
type Compressor interface {
	Compress(ctx context.Context, sourcePath string) (*Archive, error)
}

// SevenZip runs a 7-Zip executable with fixed maximum-compression settings.
type SevenZip struct {
	// Executable is the 7z binary; a bare name is looked up in PATH.
	Executable string
	// ScratchDir holds one job directory per archive. Defaults to os.TempDir().
	ScratchDir string
}

// NewSevenZip returns a SevenZip, filling in the default executable and scratch dir.
func NewSevenZip(executable, scratchDir string) *SevenZip {
	if executable == "" {
		executable = DefaultCompressor
	}
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &SevenZip{Executable: executable, ScratchDir: scratchDir}
}

// ArchiveName rewrites the project extension to the archive extension,
// e.g. scene.blend -> scene.7z.
func ArchiveName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ArchiveExt
}

// Compress archives sourcePath into a fresh job directory under ScratchDir.
// The archive keeps the project's base name, so projects that share a name
// never share an archive path.
func (z *SevenZip) Compress(ctx context.Context, sourcePath string) (*Archive, error) {
	if err := utils.EnsureDir(z.ScratchDir); err != nil {
		return nil, &IOError{Path: z.ScratchDir, Err: err}
	}
	dir, err := os.MkdirTemp(z.ScratchDir, jobDirPattern)
	if err != nil {
		return nil, &IOError{Path: z.ScratchDir, Err: err}
	}
	archive := &Archive{Path: filepath.Join(dir, ArchiveName(sourcePath)), Dir: dir}

	if err := z.run(ctx, sourcePath, archive.Path); err != nil {
		if rerr := archive.Remove(); rerr != nil {
			slog.Warn("packager", "op", "cleanup", "dir", dir, "error", rerr)
		}
		return nil, err
	}
	return archive, nil
}

func (z *SevenZip) run(ctx context.Context, sourcePath, out string) error {
	args := append(append([]string{}, compressionArgs...), out, sourcePath)
	cmd := exec.CommandContext(ctx, z.Executable, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout := utils.NewLineWriter(func(line string) {
		slog.Debug("packager", "tool", filepath.Base(z.Executable), "out", line)
	})
	cmd.Stdout = stdout
	defer stdout.Close()

	start := time.Now()
	slog.Debug("packager", "op", "compress", "source", sourcePath, "archive", out)

	if err := cmd.Run(); err != nil {
		toolErr := &ExternalToolError{
			Tool:     z.Executable,
			ExitCode: -1,
			Stderr:   truncate(stderr.String(), maxStderrLen),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return toolErr
	}

	info, err := os.Stat(out)
	if err != nil {
		return &ExternalToolError{Tool: z.Executable, Stderr: "archive not produced", Err: err}
	}

	slog.Info("packager", "op", "compressed", "archive", out,
		"size", humanize.Bytes(uint64(info.Size())), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
