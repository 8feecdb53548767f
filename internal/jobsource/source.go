// Package jobsource loads job identifiers (page URLs) from local sitemap and
// CSV exports.
package jobsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	logx "crawlchain/pkg/logx"
)

var ErrNoURLColumn = errors.New("csv has no url column")

// Filter keeps identifiers containing every Include keyword and none of the
// Exclude keywords. Matching is case-sensitive substring matching.
type Filter struct {
	Include []string
	Exclude []string
}

func (f Filter) Match(id string) bool {
	for _, k := range f.Include {
		if k != "" && !strings.Contains(id, k) {
			return false
		}
	}
	for _, k := range f.Exclude {
		if k != "" && strings.Contains(id, k) {
			return false
		}
	}
	return true
}

func (f Filter) Apply(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if f.Match(id) {
			out = append(out, id)
		}
	}
	return out
}

// Supported reports whether path has a loadable extension.
func Supported(path string) bool {
	switch kind(path) {
	case kindXML, kindXMLGz, kindCSV:
		return true
	}
	return false
}

type fileKind int

const (
	kindUnknown fileKind = iota
	kindXML
	kindXMLGz
	kindCSV
)

func kind(path string) fileKind {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".xml.gz"):
		return kindXMLGz
	case strings.HasSuffix(p, ".xml"):
		return kindXML
	case strings.HasSuffix(p, ".csv"):
		return kindCSV
	}
	return kindUnknown
}

// Load reads every path (a file, or a directory whose direct .xml, .xml.gz
// and .csv children are read in name order) and returns the identifiers in
// first-seen order without duplicates. A file that cannot be parsed is
// logged and skipped; a path that does not exist is an error.
func Load(ctx context.Context, paths []string, filter Filter, log logx.Logger) ([]string, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "jobsource"))

	files, err := expand(paths)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := readFile(f)
		if err != nil {
			log.Warn("source file skipped", logx.String("file", f), logx.Err(err))
			continue
		}
		kept := 0
		for _, id := range ids {
			if _, dup := seen[id]; dup || !filter.Match(id) {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			kept++
		}
		log.Debug("source file read", logx.String("file", f), logx.Int("found", len(ids)), logx.Int("kept", kept))
	}
	log.Info("job identifiers loaded", logx.Int("files", len(files)), logx.Int("total", len(out)))
	return out, nil
}

func expand(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("job source %s: %w", p, err)
		}
		if !st.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("job source %s: %w", p, err)
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && Supported(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			files = append(files, filepath.Join(p, n))
		}
	}
	return files, nil
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch kind(path) {
	case kindXMLGz:
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
		fallthrough
	case kindXML:
		return ReadSitemap(r)
	case kindCSV:
		return ReadCSV(r)
	default:
		return nil, fmt.Errorf("unsupported source file %s", filepath.Base(path))
	}
}
