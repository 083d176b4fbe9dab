package cashclose

import "sort"

type bucketEntry struct {
	key    string
	record Record
}

// Trim keeps the max most recent records across every bucket and regroups the
// survivors by their original key. It returns the kept buckets and the evicted records.
// Records without a parsed timestamp rank oldest and go first.
func Trim(buckets Buckets, max int) (Buckets, []Record) {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	// Newer keys first so ties keep a stable order independent of map iteration.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	flat := make([]bucketEntry, 0, buckets.Len())
	for _, key := range keys {
		for _, rec := range buckets[key] {
			flat = append(flat, bucketEntry{key: key, record: rec})
		}
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].record.recency() > flat[j].record.recency()
	})

	var evicted []Record
	if len(flat) > max {
		for _, e := range flat[max:] {
			evicted = append(evicted, e.record)
		}
		flat = flat[:max]
	}

	out := Buckets{}
	for _, e := range flat {
		out[e.key] = append(out[e.key], e.record)
	}
	for _, list := range out {
		sortNewestFirst(list)
	}
	return out, evicted
}
