package timeline

import "sort"

// PackLanes assigns one session's spans to display lanes by greedy
// interval partitioning: sort by start, place each span in the first lane
// whose last end does not overlap it, else open a new lane. No two spans
// in the same lane overlap in [StartTs, EndTs).
func PackLanes(tasks []TaskView) [][]TaskView {
	if len(tasks) == 0 {
		return nil
	}
	spans := make([]TaskView, len(tasks))
	copy(spans, tasks)
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].StartTs != spans[j].StartTs {
			return spans[i].StartTs < spans[j].StartTs
		}
		if spans[i].EndTs != spans[j].EndTs {
			return spans[i].EndTs < spans[j].EndTs
		}
		return spans[i].TaskID < spans[j].TaskID
	})

	var lanes [][]TaskView
	var lastEnd []int64
	for _, span := range spans {
		placed := false
		for i := range lanes {
			if lastEnd[i] <= span.StartTs {
				lanes[i] = append(lanes[i], span)
				lastEnd[i] = span.EndTs
				placed = true
				break
			}
		}
		if !placed {
			lanes = append(lanes, []TaskView{span})
			lastEnd = append(lastEnd, span.EndTs)
		}
	}
	return lanes
}
