package kamis

import "strings"

type column int

const (
	colCommodity column = iota
	colMarket
	colCounty
	colRetail
	colWholesale
	colDate
	numColumns
)

var columnAliases = map[column][]string{
	colCommodity: {"commodity", "crop", "product", "cropname", "commodityname"},
	colMarket:    {"market", "marketname"},
	colCounty:    {"county", "region", "regionname", "location"},
	colRetail:    {"retail", "retailprice", "price", "priceperkg"},
	colWholesale: {"wholesale", "wholesaleprice"},
	colDate:      {"date", "entrydate", "pricedate", "day"},
}

var columnNames = map[column]string{
	colCommodity: "Commodity",
	colMarket:    "Market",
	colCounty:    "County",
	colRetail:    "Retail",
	colWholesale: "Wholesale",
	colDate:      "Date",
}

func normHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "", "-", "", "_", "", "(", "", ")", "", ".", "").Replace(s)
	return s
}

// columnIndex maps header cells to known columns. Missing columns are -1.
type columnIndex [numColumns]int

func indexHeader(header []string) columnIndex {
	var idx columnIndex
	for i := range idx {
		idx[i] = -1
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[normHeader(h)]; !dup {
			pos[normHeader(h)] = i
		}
	}
	for col, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				idx[col] = i
				break
			}
		}
	}
	return idx
}

// missing lists required columns absent from the header. A table needs a
// commodity (unless the page names the product), a county, a date and at
// least one price column.
func (idx columnIndex) missing(productKnown bool) []string {
	var out []string
	if idx[colCommodity] < 0 && !productKnown {
		out = append(out, columnNames[colCommodity])
	}
	if idx[colCounty] < 0 {
		out = append(out, columnNames[colCounty])
	}
	if idx[colDate] < 0 {
		out = append(out, columnNames[colDate])
	}
	if idx[colRetail] < 0 && idx[colWholesale] < 0 {
		out = append(out, columnNames[colRetail]+" or "+columnNames[colWholesale])
	}
	return out
}

func (idx columnIndex) record(f Format, line int, product string, cells []string) RawRecord {
	get := func(c column) string {
		i := idx[c]
		if i < 0 || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}
	return RawRecord{
		Format:    f,
		Line:      line,
		Product:   product,
		Commodity: get(colCommodity),
		Market:    get(colMarket),
		County:    get(colCounty),
		Retail:    get(colRetail),
		Wholesale: get(colWholesale),
		Date:      get(colDate),
	}
}
