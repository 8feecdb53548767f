package chain

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EntryFiles are tried in order when no entry file is configured.
var EntryFiles = []string{"task.yaml", "task.yml", "task.json", "task.toml"}

// DirResolver finds entry points at <TasksDir>/<name>/<entry file>.
type DirResolver struct {
	TasksDir   string
	EntryFiles []string
}

// NewDirResolver uses entryFile when set, otherwise EntryFiles.
func NewDirResolver(tasksDir, entryFile string) DirResolver {
	files := EntryFiles
	if f := strings.TrimSpace(entryFile); f != "" {
		files = []string{f}
	}
	return DirResolver{TasksDir: tasksDir, EntryFiles: files}
}

func (r DirResolver) EntryPoint(name string) (string, bool) {
	if !validTaskName(name) {
		return "", false
	}
	for _, f := range r.EntryFiles {
		p := filepath.Join(r.TasksDir, name, f)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// TaskFolder is one directory under the tasks dir.
type TaskFolder struct {
	Name  string `json:"name"`
	Entry string `json:"entry,omitempty"`
}

func (t TaskFolder) Runnable() bool { return t.Entry != "" }

// List returns the task folders sorted by name. A missing tasks dir yields
// an empty list.
func (r DirResolver) List() ([]TaskFolder, error) {
	entries, err := os.ReadDir(r.TasksDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []TaskFolder{}, nil
		}
		return nil, err
	}
	out := make([]TaskFolder, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		entry, _ := r.EntryPoint(e.Name())
		out = append(out, TaskFolder{Name: e.Name(), Entry: entry})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func validTaskName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
