package chain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Placeholders replaced in scaffolded task files.
const (
	PlaceholderTaskID     = "tasks_id"
	PlaceholderTimeTaskID = "time_task_id"
)

var scaffoldExts = []string{".yaml", ".yml", ".json", ".toml", ".csv", ".txt", ".md"}

// Scaffold copies templateDir to <tasksDir>/<yymmdd>-<name> and replaces the
// placeholders in text files. It returns the new task name.
func Scaffold(templateDir, tasksDir, name string, now time.Time) (string, error) {
	name = strings.TrimSpace(name)
	if !validTaskName(name) {
		return "", fmt.Errorf("invalid task name %q", name)
	}
	st, err := os.Stat(templateDir)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", templateDir, err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("template %s is not a directory", templateDir)
	}

	taskName := now.Format("060102") + "-" + name
	dst := filepath.Join(tasksDir, taskName)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("task folder %s already exists", dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	repl := strings.NewReplacer(PlaceholderTimeTaskID, taskName, PlaceholderTaskID, name)
	err = filepath.WalkDir(templateDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(templateDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if slices.Contains(scaffoldExts, strings.ToLower(filepath.Ext(p))) {
			b = []byte(repl.Replace(string(b)))
		}
		return os.WriteFile(target, b, 0o644)
	})
	if err != nil {
		_ = os.RemoveAll(dst)
		return "", fmt.Errorf("scaffold %s: %w", taskName, err)
	}
	return taskName, nil
}

// Archive moves the named task folders from tasksDir into archiveDir. Missing
// folders are ignored. It returns the names moved and any per-folder errors.
func Archive(tasksDir, archiveDir string, names []string) ([]string, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", archiveDir, err)
	}
	var (
		moved []string
		errs  []error
	)
	for _, n := range names {
		if !validTaskName(n) {
			continue
		}
		src := filepath.Join(tasksDir, n)
		if st, err := os.Stat(src); err != nil || !st.IsDir() {
			continue
		}
		dst := filepath.Join(archiveDir, n)
		if _, err := os.Stat(dst); err == nil {
			errs = append(errs, fmt.Errorf("archive %s: %s already exists", n, dst))
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", n, err))
			continue
		}
		moved = append(moved, n)
	}
	return moved, errors.Join(errs...)
}
