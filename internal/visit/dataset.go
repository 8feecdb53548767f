package visit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dataset appends extracted rows to a CSV file with the columns
// "url" followed by the selector columns. Each row is flushed as written.
type Dataset struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	columns []string
	rows    int
}

// OpenDataset creates path, or appends to it when it already holds rows.
func OpenDataset(path string, columns []string) (*Dataset, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	d := &Dataset{f: f, w: csv.NewWriter(f), columns: append([]string(nil), columns...)}
	if st.Size() == 0 {
		if err := d.w.Write(append([]string{"url"}, d.columns...)); err != nil {
			_ = f.Close()
			return nil, err
		}
		d.w.Flush()
		if err := d.w.Error(); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *Dataset) Write(url string, values map[string]string) error {
	rec := make([]string, 0, len(d.columns)+1)
	rec = append(rec, url)
	for _, c := range d.columns {
		rec = append(rec, values[c])
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return os.ErrClosed
	}
	if err := d.w.Write(rec); err != nil {
		return err
	}
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		return err
	}
	d.rows++
	return nil
}

// Rows is the number of rows written since open.
func (d *Dataset) Rows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rows
}

func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	d.w.Flush()
	err := d.w.Error()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	d.f = nil
	return err
}
