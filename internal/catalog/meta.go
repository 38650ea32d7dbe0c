package catalog

import "strconv"

// ColMeta describes one column of a table (spec.md §3: "TabMeta /
// ColMeta": name, ordered column list; each column has name, type,
// byte length, offset within the record, and an index-exists flag).
type ColMeta struct {
	Name    string  `yaml:"name"`
	Type    ColType `yaml:"type"`
	Len     int     `yaml:"len"`
	Offset  int     `yaml:"offset"`
	Indexed bool    `yaml:"indexed"`
}

// ColType is the on-disk column type, driving both record byte layout
// and the B+tree comparator chosen for an indexed column.
type ColType string

const (
	TypeInt    ColType = "INT"
	TypeBigInt ColType = "BIGINT"
	TypeFloat  ColType = "FLOAT"
	TypeChar   ColType = "CHAR"
)

// TabMeta is a table's schema: name, ordered columns, and the derived
// fixed record size.
type TabMeta struct {
	Name       string    `yaml:"name"`
	Cols       []ColMeta `yaml:"cols"`
	RecordSize int       `yaml:"record_size"`
}

// ColByName finds a column by name, or ok=false.
func (t *TabMeta) ColByName(name string) (ColMeta, bool) {
	for _, c := range t.Cols {
		if c.Name == name {
			return c, true
		}
	}
	return ColMeta{}, false
}

// IndexedCols returns every column with Indexed=true, in schema order.
func (t *TabMeta) IndexedCols() []ColMeta {
	var out []ColMeta
	for _, c := range t.Cols {
		if c.Indexed {
			out = append(out, c)
		}
	}
	return out
}

// DbMeta is the catalog root: database name plus its table map
// (spec.md §3).
type DbMeta struct {
	Name   string             `yaml:"name"`
	Tables map[string]TabMeta `yaml:"tables"`
}

func newDbMeta(name string) *DbMeta {
	return &DbMeta{Name: name, Tables: make(map[string]TabMeta)}
}

// indexFileName is the deterministic index-name function from spec.md
// §4.5: a name derived from (table_name, column_index).
func indexFileName(tableName string, colIndex int) string {
	return tableName + ".idx" + strconv.Itoa(colIndex)
}
