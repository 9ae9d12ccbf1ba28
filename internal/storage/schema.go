package storage

import (
	"fmt"
	"strings"
)

type columnType int

const (
	colInt columnType = iota
	colFloat
	colText
)

type column struct {
	name string
	typ  columnType
}

// table describes one entity's layout. Key columns come first in cols.
type table struct {
	entity Entity
	keys   int
	cols   []column
}

func (t table) name() string { return t.entity.String() }

func (t table) columnNames() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.name
	}
	return out
}

func (t table) keyNames() []string { return t.columnNames()[:t.keys] }

// spectrumChannels are the per-mode emd columns, each suffixed _0.._{K-1}.
var spectrumChannels = []string{"imf", "if", "ia", "ip"}

// tables returns the layout of every entity for a spectrum width of k.
func tables(k int) map[Entity]table {
	ohlc := []column{
		{"open", colFloat}, {"high", colFloat}, {"low", colFloat}, {"close", colFloat}, {"volume", colFloat},
	}

	emd := []column{
		{"instrument_id", colInt}, {"resolution", colText}, {"vpin_id", colInt}, {"fdim", colText}, {"epoch", colInt},
		{"modes", colInt},
	}
	for _, ch := range spectrumChannels {
		for m := 0; m < k; m++ {
			emd = append(emd, column{fmt.Sprintf("%s_%d", ch, m), colFloat})
		}
	}

	return map[Entity]table{
		EntityOHLCV: {
			entity: EntityOHLCV, keys: 3,
			cols: concat(
				[]column{{"instrument_id", colInt}, {"resolution", colText}, {"epoch", colInt}},
				ohlc,
				[]column{{"trade_count", colInt}},
			),
		},
		EntityVpin: {
			entity: EntityVpin, keys: 3,
			cols: concat(
				[]column{{"instrument_id", colInt}, {"vpin_id", colInt}, {"epoch", colInt}},
				ohlc,
				[]column{{"buy_volume", colFloat}, {"sell_volume", colFloat}, {"trade_count", colInt}},
				[]column{{"exp_ticks", colFloat}, {"exp_imbalance", colFloat}, {"tick_sign", colFloat}},
			),
		},
		EntityFfd: {
			entity: EntityFfd, keys: 5,
			cols: concat(
				[]column{{"instrument_id", colInt}, {"resolution", colText}, {"vpin_id", colInt}, {"fdim", colText}, {"epoch", colInt}},
				ohlc,
				[]column{{"trade_count", colFloat}},
			),
		},
		EntityEmd: {entity: EntityEmd, keys: 5, cols: emd},
		EntityPremium: {
			entity: EntityPremium, keys: 4,
			cols: []column{
				{"spot_instrument_id", colInt}, {"futures_instrument_id", colInt}, {"resolution", colText}, {"epoch", colInt},
				{"premium_index", colFloat},
			},
		},
	}
}

func concat(parts ...[]column) []column {
	var out []column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// dialect captures what differs between the SQL backends.
type dialect struct {
	name      string
	maxParams int
	intType   string
	floatType string
	textType  string
	// placeholder returns the marker for the 1-based parameter n.
	placeholder func(n int) string
}

func (d dialect) columnType(t columnType) string {
	switch t {
	case colInt:
		return d.intType
	case colFloat:
		return d.floatType
	case colText:
		return d.textType
	default:
		panic(fmt.Sprintf("storage: unknown column type %d", t))
	}
}

// createTable renders idempotent DDL for t.
func (d dialect) createTable(t table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", t.name())
	for i, c := range t.cols {
		fmt.Fprintf(&sb, "\t%s %s", quoteIdent(c.name), d.columnType(c.typ))
		if i < t.keys {
			sb.WriteString(" NOT NULL")
		}
		sb.WriteString(",\n")
	}
	fmt.Fprintf(&sb, "\tPRIMARY KEY (%s)\n)", strings.Join(quoteAll(t.keyNames()), ", "))
	return sb.String()
}

// upsert renders a multi-row INSERT .. ON CONFLICT DO UPDATE for rows rows.
func (d dialect) upsert(t table, rows int) string {
	names := quoteAll(t.columnNames())
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", t.name(), strings.Join(names, ", "))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range t.cols {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.placeholder(n))
			n++
		}
		sb.WriteByte(')')
	}

	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(names[:t.keys], ", "))
	for i, name := range names[t.keys:] {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", name, name)
	}
	return sb.String()
}

// rowsPerStatement bounds a chunk by the parameter limit and the configured batch size.
func (d dialect) rowsPerStatement(t table, batchSize int) int {
	n := d.maxParams / len(t.cols)
	if batchSize > 0 && batchSize < n {
		n = batchSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// quoteIdent quotes a column name; "if" is a keyword in both dialects.
func quoteIdent(name string) string { return `"` + name + `"` }

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
