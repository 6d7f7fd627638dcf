package series

import (
	"fmt"
	"sort"
	"time"
)

// Table is a wide, time-aligned frame: one row per timestamp, one column per
// series. Times are strictly increasing.
type Table struct {
	times   []time.Time
	columns map[string][]float64
	order   []string
}

// NewTable creates an empty table over the given (sorted, unique) times.
func NewTable(times []time.Time) *Table {
	return &Table{
		times:   times,
		columns: make(map[string][]float64),
	}
}

// Join outer-joins the series on timestamp. A column holds NaN where its
// series has no sample at that time.
func Join(all ...Series) *Table {
	index := make(map[int64]struct{})
	sortedAll := make([]Series, len(all))
	for i, s := range all {
		sortedAll[i] = s.Sorted()
		for _, sample := range sortedAll[i].Samples {
			index[sample.Time.UnixNano()] = struct{}{}
		}
	}

	keys := make([]int64, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	times := make([]time.Time, len(keys))
	rowOf := make(map[int64]int, len(keys))
	for i, k := range keys {
		times[i] = time.Unix(0, k).UTC()
		rowOf[k] = i
	}

	t := NewTable(times)
	for _, s := range sortedAll {
		values := t.blank()
		if existing, ok := t.columns[s.Name]; ok {
			values = existing
		}
		for _, sample := range s.Samples {
			values[rowOf[sample.Time.UnixNano()]] = sample.Value
		}
		t.put(s.Name, values)
	}
	return t
}

func (t *Table) blank() []float64 {
	values := make([]float64, len(t.times))
	for i := range values {
		values[i] = Missing()
	}
	return values
}

func (t *Table) put(name string, values []float64) {
	if _, ok := t.columns[name]; !ok {
		t.order = append(t.order, name)
	}
	t.columns[name] = values
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.times) }

// Times returns the row timestamps.
func (t *Table) Times() []time.Time { return t.times }

// Columns returns column names in insertion order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Column returns the column values, or nil when the column is absent.
func (t *Table) Column(name string) []float64 {
	return t.columns[name]
}

// Set adds or replaces a column.
func (t *Table) Set(name string, values []float64) error {
	if len(values) != len(t.times) {
		return fmt.Errorf("column %s has %d values, table has %d rows", name, len(values), len(t.times))
	}
	t.put(name, values)
	return nil
}

// SetMissing adds or replaces a column with every value missing.
func (t *Table) SetMissing(names ...string) {
	for _, name := range names {
		t.put(name, t.blank())
	}
}

// Drop removes columns.
func (t *Table) Drop(names ...string) {
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			continue
		}
		delete(t.columns, name)
		for i, n := range t.order {
			if n == name {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// Value returns the value at row i of a column, NaN if the column is absent.
func (t *Table) Value(name string, i int) float64 {
	col, ok := t.columns[name]
	if !ok {
		return Missing()
	}
	return col[i]
}

// Latest returns the last timestamp, zero when empty.
func (t *Table) Latest() time.Time {
	if len(t.times) == 0 {
		return time.Time{}
	}
	return t.times[len(t.times)-1]
}

// Since returns the rows strictly after cutoff.
func (t *Table) Since(cutoff time.Time) *Table {
	start := sort.Search(len(t.times), func(i int) bool {
		return t.times[i].After(cutoff)
	})
	out := NewTable(t.times[start:])
	for _, name := range t.order {
		out.put(name, t.columns[name][start:])
	}
	return out
}

// Tail returns the rows within d of the latest timestamp.
func (t *Table) Tail(d time.Duration) *Table {
	if len(t.times) == 0 {
		return t
	}
	return t.Since(t.Latest().Add(-d))
}

// LastValid returns the most recent non-missing value of a column.
func (t *Table) LastValid(name string) (float64, bool) {
	col := t.columns[name]
	for i := len(col) - 1; i >= 0; i-- {
		if !IsMissing(col[i]) {
			return col[i], true
		}
	}
	return Missing(), false
}

// FirstValid returns the earliest non-missing value of a column.
func (t *Table) FirstValid(name string) (float64, bool) {
	for _, v := range t.columns[name] {
		if !IsMissing(v) {
			return v, true
		}
	}
	return Missing(), false
}

// ResampleHourly buckets rows into hours labeled by their right edge: a row
// at 10:20 lands in the 11:00 bucket, covering [10:00, 11:00). Each bucket
// holds the mean of the valid values; the result covers every hour between
// the first and last label.
func (t *Table) ResampleHourly() *Table {
	if len(t.times) == 0 {
		return NewTable(nil)
	}

	label := func(ts time.Time) time.Time {
		return ts.Truncate(time.Hour).Add(time.Hour)
	}
	first, last := label(t.times[0]), label(t.Latest())
	n := int(last.Sub(first)/time.Hour) + 1

	times := make([]time.Time, n)
	for i := range times {
		times[i] = first.Add(time.Duration(i) * time.Hour)
	}
	out := NewTable(times)

	for _, name := range t.order {
		sums := make([]float64, n)
		counts := make([]int, n)
		for i, v := range t.columns[name] {
			if IsMissing(v) {
				continue
			}
			bucket := int(label(t.times[i]).Sub(first) / time.Hour)
			sums[bucket] += v
			counts[bucket]++
		}
		values := out.blank()
		for i := range values {
			if counts[i] > 0 {
				values[i] = sums[i] / float64(counts[i])
			}
		}
		out.put(name, values)
	}
	return out
}
