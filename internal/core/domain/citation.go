package domain

import "sort"

// CitationIndexMap maps a stable citation index to the source it resolved to.
type CitationIndexMap map[int]SearchResult

func (m CitationIndexMap) Indices() []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
