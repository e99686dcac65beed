package syncer

import (
	"strings"

	"agri-price-api/kamis"
	"agri-price-api/models"

	"github.com/sahilm/fuzzy"
	"gorm.io/gorm"
)

// productWords turn a crop into a different product: "Maize Flour" and
// "Green Maize" are not "Maize". A raw name carrying one of them only
// matches a catalog name that carries it too.
var productWords = map[string]bool{
	"flour": true, "meal": true, "green": true, "oil": true, "bran": true,
	"powder": true, "paste": true, "juice": true, "cake": true,
	"seed": true, "seeds": true, "seedlings": true,
}

type catalogEntry struct {
	id     uint
	norm   string
	tokens []string
}

// names resolves free-text names from the feed to catalog ids.
type names struct {
	entries []catalogEntry
	norms   []string
	cache   map[string]uint
}

func newNames(ids []uint, raw []string) *names {
	n := &names{cache: make(map[string]uint)}
	for i, id := range ids {
		norm := kamis.NormalizeName(raw[i])
		if norm == "" {
			continue
		}
		n.entries = append(n.entries, catalogEntry{id: id, norm: norm, tokens: strings.Fields(norm)})
		n.norms = append(n.norms, norm)
	}
	return n
}

// resolve tries an exact normalized match, then token containment (the
// longest known name whose tokens all appear wins), then a fuzzy
// subsequence match that must have a unique best score.
func (n *names) resolve(raw string) (uint, bool) {
	norm := kamis.NormalizeName(raw)
	if norm == "" {
		return 0, false
	}
	if id, ok := n.cache[norm]; ok {
		return id, id != 0
	}
	id := n.lookup(norm)
	n.cache[norm] = id
	return id, id != 0
}

func (n *names) lookup(norm string) uint {
	for _, e := range n.entries {
		if e.norm == norm {
			return e.id
		}
	}

	raw := strings.Fields(norm)
	have := make(map[string]bool)
	for _, tok := range raw {
		have[tok] = true
	}
	var best *catalogEntry
	tie := false
	for i := range n.entries {
		e := &n.entries[i]
		if !containsAll(have, e.tokens) || changesProduct(raw, e.tokens) {
			continue
		}
		switch {
		case best == nil || len(e.norm) > len(best.norm):
			best, tie = e, false
		case len(e.norm) == len(best.norm):
			tie = true
		}
	}
	if best != nil && !tie {
		return best.id
	}

	matches := fuzzy.Find(norm, n.norms)
	if len(matches) == 0 {
		return 0
	}
	if len(matches) > 1 && matches[1].Score == matches[0].Score {
		return 0
	}
	e := n.entries[matches[0].Index]
	if changesProduct(raw, e.tokens) {
		return 0
	}
	return e.id
}

// changesProduct reports whether raw has a product word the entry lacks.
func changesProduct(raw, entry []string) bool {
	for _, tok := range raw {
		if productWords[tok] && !contains(entry, tok) {
			return true
		}
	}
	return false
}

func contains(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}

func containsAll(have map[string]bool, tokens []string) bool {
	for _, t := range tokens {
		if !have[t] {
			return false
		}
	}
	return len(tokens) > 0
}

// Catalog resolves crop and region names against the active catalog.
type Catalog struct {
	crops   *names
	regions *names
}

func LoadCatalog(db *gorm.DB) (*Catalog, error) {
	var crops []models.Crop
	if err := db.Where("active = ?", true).Order("id").Find(&crops).Error; err != nil {
		return nil, err
	}
	var regions []models.Region
	if err := db.Where("active = ?", true).Order("id").Find(&regions).Error; err != nil {
		return nil, err
	}

	cropIDs, cropNames := make([]uint, len(crops)), make([]string, len(crops))
	for i, c := range crops {
		cropIDs[i], cropNames[i] = c.ID, c.Name
	}
	regionIDs, regionNames := make([]uint, len(regions)), make([]string, len(regions))
	for i, r := range regions {
		regionIDs[i], regionNames[i] = r.ID, r.Name
	}
	return &Catalog{crops: newNames(cropIDs, cropNames), regions: newNames(regionIDs, regionNames)}, nil
}

func (c *Catalog) Crop(name string) (uint, bool)   { return c.crops.resolve(name) }
func (c *Catalog) Region(name string) (uint, bool) { return c.regions.resolve(name) }
