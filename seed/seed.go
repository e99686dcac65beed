// Package seed loads the crop and region catalog from YAML.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"agri-price-api/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type Crop struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Unit     string `yaml:"unit"`
}

type Region struct {
	Name     string   `yaml:"name"`
	Grouping string   `yaml:"grouping"`
	Markets  []string `yaml:"markets"`
}

type Catalog struct {
	Crops   []Crop   `yaml:"crops"`
	Regions []Region `yaml:"regions"`
}

// Result counts rows created by Apply. Existing rows are left untouched.
type Result struct {
	Crops   int `json:"crops"`
	Regions int `json:"regions"`
	Markets int `json:"markets"`
}

func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed catalog is empty")
		}
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads path, or the built-in Kenyan catalog when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Load(bytes.NewReader(defaultCatalog))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool)
	for i, crop := range c.Crops {
		key := "crop:" + strings.ToLower(strings.TrimSpace(crop.Name))
		if key == "crop:" {
			return fmt.Errorf("crop %d has no name", i+1)
		}
		if seen[key] {
			return fmt.Errorf("duplicate crop %q", crop.Name)
		}
		seen[key] = true
	}
	for i, region := range c.Regions {
		key := "region:" + strings.ToLower(strings.TrimSpace(region.Name))
		if key == "region:" {
			return fmt.Errorf("region %d has no name", i+1)
		}
		if seen[key] {
			return fmt.Errorf("duplicate region %q", region.Name)
		}
		seen[key] = true
	}
	return nil
}

// Apply inserts missing crops, regions and markets in one transaction.
// Names match case-insensitively, so applying the same catalog twice is a
// no-op.
func Apply(ctx context.Context, db *gorm.DB, c *Catalog) (Result, error) {
	var res Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, in := range c.Crops {
			unit := strings.ToLower(strings.TrimSpace(in.Unit))
			if unit == "" {
				unit = "kg"
			}
			crop := models.Crop{Name: strings.TrimSpace(in.Name), Category: in.Category, Unit: unit, Active: true}
			created, err := firstOrCreate(tx, &crop, "LOWER(name) = ?", strings.ToLower(crop.Name))
			if err != nil {
				return fmt.Errorf("seed crop %q: %w", in.Name, err)
			}
			if created {
				res.Crops++
			}
		}
		for _, in := range c.Regions {
			region := models.Region{Name: strings.TrimSpace(in.Name), Grouping: in.Grouping, Active: true}
			created, err := firstOrCreate(tx, &region, "LOWER(name) = ?", strings.ToLower(region.Name))
			if err != nil {
				return fmt.Errorf("seed region %q: %w", in.Name, err)
			}
			if created {
				res.Regions++
			}
			for _, name := range in.Markets {
				market := models.Market{Name: strings.TrimSpace(name), RegionID: region.ID, Active: true}
				created, err := firstOrCreate(tx, &market, "LOWER(name) = ? AND region_id = ?", strings.ToLower(market.Name), region.ID)
				if err != nil {
					return fmt.Errorf("seed market %q: %w", name, err)
				}
				if created {
					res.Markets++
				}
			}
		}
		return nil
	})
	return res, err
}

// firstOrCreate loads the row matching the condition into dest, or inserts
// dest as given.
func firstOrCreate(tx *gorm.DB, dest any, cond string, args ...any) (bool, error) {
	err := tx.Where(cond, args...).Take(dest).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return true, tx.Create(dest).Error
}
