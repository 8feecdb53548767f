package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultEntryFile is the file whose presence makes a task folder runnable.
const DefaultEntryFile = "task.yaml"

// TaskDefinition describes one task folder: where its job identifiers come
// from, what to extract from each page and where the dataset goes.
//
// Relative paths are resolved against the task folder.
type TaskDefinition struct {
	Name  string `json:"name,omitempty"`
	Label string `json:"label,omitempty"`

	// Sources are sitemap .xml or .csv files, or directories holding them.
	Sources []string `json:"sources" validate:"required,min=1,dive,required"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`

	// Selectors maps a dataset column to a CSS selector.
	Selectors map[string]string `json:"selectors,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
	// Required columns must extract a non-empty value or the page fails.
	Required []string `json:"required,omitempty"`
	Output   string   `json:"output,omitempty"`

	Visit  *VisitConfig  `json:"visit,omitempty"`
	Runner *RunnerConfig `json:"runner,omitempty"`

	// Dir is the folder the definition was loaded from.
	Dir string `json:"-"`
}

// LoadTaskDefinition reads a task definition file. The task name defaults to
// the folder name and the label to the task name.
func LoadTaskDefinition(path string) (*TaskDefinition, error) {
	var def TaskDefinition
	if err := decodeFile(path, &def); err != nil {
		return nil, err
	}
	def.Dir = filepath.Dir(path)
	if strings.TrimSpace(def.Name) == "" {
		def.Name = filepath.Base(def.Dir)
	}
	if strings.TrimSpace(def.Label) == "" {
		def.Label = def.Name
	}
	if strings.TrimSpace(def.Output) == "" {
		def.Output = "dataset.csv"
	}

	if err := structValidator().Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid task %s: %w", path, err)
	}
	for _, col := range def.Required {
		if _, ok := def.Selectors[col]; !ok {
			return nil, fmt.Errorf("invalid task %s: required column %q has no selector", path, col)
		}
	}
	if def.Runner != nil {
		r := def.Runner
		if r.MinConcurrency > 0 && r.MaxConcurrency > 0 && r.MinConcurrency > r.MaxConcurrency {
			return nil, fmt.Errorf("invalid task %s: runner.min_concurrency > runner.max_concurrency", path)
		}
	}
	return &def, nil
}

// Resolve returns p relative to the task folder unless it is absolute.
func (d *TaskDefinition) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// SourcePaths returns the resolved source paths.
func (d *TaskDefinition) SourcePaths() []string {
	out := make([]string, 0, len(d.Sources))
	for _, s := range d.Sources {
		out = append(out, d.Resolve(s))
	}
	return out
}

// OutputPath returns the resolved dataset path.
func (d *TaskDefinition) OutputPath() string { return d.Resolve(d.Output) }

// MergeRunner overlays task-level runner overrides on the global runner config.
func MergeRunner(base RunnerConfig, over *RunnerConfig) RunnerConfig {
	if over == nil {
		return base
	}
	out := base
	if over.MinConcurrency > 0 {
		out.MinConcurrency = over.MinConcurrency
	}
	if over.MaxConcurrency > 0 {
		out.MaxConcurrency = over.MaxConcurrency
	}
	if over.MaxRetries != nil {
		out.MaxRetries = over.MaxRetries
	}
	if over.MaxJobsPerRun > 0 {
		out.MaxJobsPerRun = over.MaxJobsPerRun
	}
	if over.RatePerSec > 0 {
		out.RatePerSec = over.RatePerSec
	}
	if strings.TrimSpace(over.AutoscaleEvery) != "" {
		out.AutoscaleEvery = over.AutoscaleEvery
	}
	return out
}

// MergeVisit overlays task-level visitor overrides on the global visitor config.
func MergeVisit(base VisitConfig, over *VisitConfig) VisitConfig {
	if over == nil {
		return base
	}
	out := base
	if over.Driver != "" {
		out.Driver = over.Driver
	}
	if over.Timeout != "" {
		out.Timeout = over.Timeout
	}
	if over.UserAgent != "" {
		out.UserAgent = over.UserAgent
	}
	if over.Headless != nil {
		out.Headless = over.Headless
	}
	if over.ExecPath != "" {
		out.ExecPath = over.ExecPath
	}
	if over.Proxy != "" {
		out.Proxy = over.Proxy
	}
	return out
}
