package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxSnapshotFileSize caps snapshot reads to 64 MiB.
const maxSnapshotFileSize = 64 << 20

// FileSink is where exported snapshots land and imported ones come from.
type FileSink interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, path string) ([]byte, error)
	// Share hands the written file to the platform share action. It
	// reports false when no share action is configured.
	Share(ctx context.Context, path string) (bool, error)
}

// DirSink writes snapshots into one directory. ShareCommand, when set, is
// split on whitespace and run with the written path appended.
type DirSink struct {
	Dir          string
	ShareCommand string

	commandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewDirSink(dir, shareCommand string) *DirSink {
	return &DirSink{Dir: dir, ShareCommand: shareCommand}
}

func (d *DirSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(d.Dir) == "" {
		return "", fmt.Errorf("%w: backup directory is required", ErrValidation)
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: invalid backup file name %q", ErrValidation, name)
	}
	if err := os.MkdirAll(d.Dir, 0o700); err != nil {
		return "", fmt.Errorf("write backup: create directory: %w", err)
	}
	path := filepath.Join(d.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("write backup: set permissions: %w", err)
	}
	return path, nil
}

// Read accepts an absolute path, a path relative to the working directory,
// or a bare file name inside Dir.
func (d *DirSink) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: backup path is required", ErrValidation)
	}
	resolved := d.resolve(path)

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSnapshotFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	if len(data) > maxSnapshotFileSize {
		return nil, fmt.Errorf("read backup: file exceeds %d MiB limit", maxSnapshotFileSize>>20)
	}
	return data, nil
}

func (d *DirSink) Share(ctx context.Context, path string) (bool, error) {
	fields := strings.Fields(d.ShareCommand)
	if len(fields) == 0 {
		return false, nil
	}
	factory := d.commandFactory
	if factory == nil {
		factory = exec.CommandContext
	}
	args := append(fields[1:], path)
	cmd := factory(ctx, fields[0], args...)
	cmd.Env = append(os.Environ(), "CHECKERQ_BACKUP_PATH="+path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("share backup: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return true, nil
}

func (d *DirSink) resolve(path string) string {
	if filepath.IsAbs(path) || d.Dir == "" {
		return path
	}
	if filepath.Base(path) == path {
		candidate := filepath.Join(d.Dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
