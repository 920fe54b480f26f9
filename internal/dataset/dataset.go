// Package dataset loads the study's CSV datasets and precomputes the
// per-attribute value distributions the bias engine and the frontend need.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Distribution maps attribute name -> value -> occurrence count.
type Distribution map[string]map[string]int

// Dataset is one loaded CSV file. The id is the file name including the
// extension, which is how the frontend refers to it (e.g. "cars.csv").
type Dataset struct {
	ID           string
	Attributes   []string
	Rows         int
	Distribution Distribution
}

// Catalog holds every dataset available to the study. It is built once at
// startup, before the server accepts connections, and read-only afterwards.
type Catalog struct {
	datasets map[string]Dataset
}

// New builds a catalog from preloaded datasets. Mostly useful in tests.
func New(datasets ...Dataset) *Catalog {
	c := &Catalog{datasets: make(map[string]Dataset, len(datasets))}
	for _, d := range datasets {
		c.datasets[d.ID] = d
	}
	return c
}

// Load reads every *.csv file under dir and precomputes its distribution.
func Load(dir string) (*Catalog, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("scan data dir: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no csv datasets found in %s", dir)
	}

	c := &Catalog{datasets: make(map[string]Dataset, len(paths))}
	for _, path := range paths {
		d, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", filepath.Base(path), err)
		}
		c.datasets[d.ID] = d
	}
	return c, nil
}

func loadFile(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 1 {
		return Dataset{}, fmt.Errorf("empty file")
	}

	attrs := records[0]
	dist := make(Distribution, len(attrs))
	for _, a := range attrs {
		dist[a] = make(map[string]int)
	}

	for _, row := range records[1:] {
		for i, value := range row {
			if i >= len(attrs) || value == "" {
				continue
			}
			dist[attrs[i]][value]++
		}
	}

	return Dataset{
		ID:           filepath.Base(path),
		Attributes:   attrs,
		Rows:         len(records) - 1,
		Distribution: dist,
	}, nil
}

// Get looks up a dataset by id.
func (c *Catalog) Get(id string) (Dataset, bool) {
	d, ok := c.datasets[id]
	return d, ok
}

// IDs returns the dataset ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.datasets))
	for id := range c.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Distributions returns the dataset id -> distribution mapping emitted to
// every client on connect.
func (c *Catalog) Distributions() map[string]Distribution {
	out := make(map[string]Distribution, len(c.datasets))
	for id, d := range c.datasets {
		out[id] = d.Distribution
	}
	return out
}
