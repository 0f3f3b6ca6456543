package replay

import "github.com/ChuLiYu/shardkeeper/pkg/types"

// Range is a contiguous, half-open index range into a pulled log batch.
type Range struct {
	Start int
	End   int
}

// splitByTable walks entries linearly and groups them into TableBatch-style
// ranges, starting a new range each time the table id changes and
// accumulating additional ranges on repeat appearances, preserving physical
// order within and across ranges.
func splitByTable(entries []types.LogEntry) map[types.TableID][]Range {
	out := make(map[types.TableID][]Range)
	if len(entries) == 0 {
		return out
	}

	cur := entries[0].TableID
	start := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].TableID != cur {
			out[cur] = append(out[cur], Range{Start: start, End: i})
			cur = entries[i].TableID
			start = i
		}
	}
	out[cur] = append(out[cur], Range{Start: start, End: len(entries)})
	return out
}

// gatherRanges concatenates the entries covered by ranges, in order.
func gatherRanges(entries []types.LogEntry, ranges []Range) []types.LogEntry {
	var out []types.LogEntry
	for _, r := range ranges {
		out = append(out, entries[r.Start:r.End]...)
	}
	return out
}
