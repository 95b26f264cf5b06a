package grid

import (
	"encoding/json"
	"strconv"
)

// MergeRange is a rectangular group of coordinates presented as one visual
// cell. Bounds are inclusive, zero-based.
type MergeRange struct {
	StartRow int `json:"start_row"`
	StartCol int `json:"start_col"`
	EndRow   int `json:"end_row"`
	EndCol   int `json:"end_col"`
}

// IsDegenerate reports whether the range covers a single cell or has
// inverted bounds. Degenerate ranges are dropped on write.
func (m MergeRange) IsDegenerate() bool {
	if m.EndRow < m.StartRow || m.EndCol < m.StartCol {
		return true
	}
	return m.StartRow == m.EndRow && m.StartCol == m.EndCol
}

// SpansMultipleRows reports whether the range covers more than one row.
func (m MergeRange) SpansMultipleRows() bool {
	return m.EndRow > m.StartRow
}

// FreezePane is the freeze anchor: counts of frozen rows and columns.
type FreezePane struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Metadata facets are best-effort: a parse failure degrades the facet to
// its empty default rather than failing the whole request. The encode
// helpers return "" for empty facets so unused columns stay NULL-ish.

func parseMerges(raw string) []MergeRange {
	if raw == "" {
		return nil
	}
	var merges []MergeRange
	if err := json.Unmarshal([]byte(raw), &merges); err != nil {
		return nil
	}
	return merges
}

func encodeMerges(merges []MergeRange) string {
	if len(merges) == 0 {
		return ""
	}
	data, err := json.Marshal(merges)
	if err != nil {
		return ""
	}
	return string(data)
}

// parseIndexFloatMap decodes a sparse {"<index>": number} map with string
// keys, the shape used for row heights.
func parseIndexFloatMap(raw string) map[int]float64 {
	if raw == "" {
		return nil
	}
	var keyed map[string]float64
	if err := json.Unmarshal([]byte(raw), &keyed); err != nil {
		return nil
	}
	result := make(map[int]float64, len(keyed))
	for key, value := range keyed {
		index, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		result[index] = value
	}
	return result
}

func encodeIndexFloatMap(values map[int]float64) string {
	if len(values) == 0 {
		return ""
	}
	keyed := make(map[string]float64, len(values))
	for index, value := range values {
		keyed[strconv.Itoa(index)] = value
	}
	data, err := json.Marshal(keyed)
	if err != nil {
		return ""
	}
	return string(data)
}

// parseIndexIntMap decodes a sparse {"<index>": int} map, the shape used
// for column widths and outline levels.
func parseIndexIntMap(raw string) map[int]int {
	if raw == "" {
		return nil
	}
	var keyed map[string]int
	if err := json.Unmarshal([]byte(raw), &keyed); err != nil {
		return nil
	}
	result := make(map[int]int, len(keyed))
	for key, value := range keyed {
		index, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		result[index] = value
	}
	return result
}

func encodeIndexIntMap(values map[int]int) string {
	if len(values) == 0 {
		return ""
	}
	keyed := make(map[string]int, len(values))
	for index, value := range values {
		keyed[strconv.Itoa(index)] = value
	}
	data, err := json.Marshal(keyed)
	if err != nil {
		return ""
	}
	return string(data)
}

func parseIndexList(raw string) []int {
	if raw == "" {
		return nil
	}
	var indices []int
	if err := json.Unmarshal([]byte(raw), &indices); err != nil {
		return nil
	}
	return indices
}

func encodeIndexList(indices []int) string {
	if len(indices) == 0 {
		return ""
	}
	data, err := json.Marshal(indices)
	if err != nil {
		return ""
	}
	return string(data)
}

func parseFreeze(raw string) FreezePane {
	if raw == "" {
		return FreezePane{}
	}
	var freeze FreezePane
	if err := json.Unmarshal([]byte(raw), &freeze); err != nil {
		return FreezePane{}
	}
	return freeze
}

// parseRuleList decodes conditional-format or validation rule arrays. The
// rules are opaque to the engine and passed through to clients verbatim.
func parseRuleList(raw string) []json.RawMessage {
	if raw == "" {
		return nil
	}
	var rules []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil
	}
	return rules
}

// styleLocked reports whether a stored style JSON marks the cell locked.
// Unparseable styles count as unlocked.
func styleLocked(style *string) bool {
	if style == nil || *style == "" {
		return false
	}
	var fields struct {
		Locked bool `json:"locked"`
	}
	if err := json.Unmarshal([]byte(*style), &fields); err != nil {
		return false
	}
	return fields.Locked
}
