package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// TableRepo loads autocomplete reference tables
type TableRepo interface {
	// Load returns the rows of table. An unknown table yields an empty list.
	Load(table string) ([]map[string]any, error)
}

type tableFileRepo struct {
	dir string

	mu    sync.RWMutex
	cache map[string][]map[string]any
}

// NewTableFileRepo reads <dir>/<table>.json, a JSON object holding the rows
// under the table's own name. Tables are cached after the first read.
func NewTableFileRepo(dir string) TableRepo {
	return &tableFileRepo{dir: dir, cache: map[string][]map[string]any{}}
}

func (r *tableFileRepo) Load(table string) ([]map[string]any, error) {
	if table == "" || filepath.Base(table) != table {
		return []map[string]any{}, nil
	}

	r.mu.RLock()
	rows, ok := r.cache[table]
	r.mu.RUnlock()
	if ok {
		return rows, nil
	}

	data, err := os.ReadFile(filepath.Join(r.dir, table+".json"))
	if os.IsNotExist(err) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read table %s", table)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse table %s", table)
	}
	if raw, ok := doc[table]; ok {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, errors.Wrapf(err, "parse rows of table %s", table)
		}
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	r.mu.Lock()
	r.cache[table] = rows
	r.mu.Unlock()
	return rows, nil
}
