package reference

// SyncTarget receives the edit script computed by Synchronize. A before
// key of "" means the end of the list.
type SyncTarget interface {
	Retain(key string, item, memo PathReference) error
	Insert(key string, item, memo PathReference, before string) error
	Move(key string, item, memo PathReference, before string) error
	Delete(key string) error
	Done() error
}

// EditStats counts the operations of one synchronization.
type EditStats struct {
	Retained int
	Inserted int
	Moved    int
	Deleted  int
}

// Synchronize brings the target from the key order remembered in the
// artifacts to the iterable's current order and records the new order.
//
// Deletes are emitted first. Retained items have their value and memo
// references updated in place. Inserts and moves are then emitted from
// right to left so the before key always names an item already in its
// final position. Retained items whose prior positions form the longest
// increasing subsequence are never moved.
func Synchronize(artifacts *IterationArtifacts, target SyncTarget) (EditStats, error) {
	var stats EditStats
	prior := make(map[string]int, len(artifacts.items))
	for i, item := range artifacts.items {
		prior[item.Key] = i
	}
	next := artifacts.iterable.Items()
	nextKeys := make(map[string]struct{}, len(next))
	for _, item := range next {
		nextKeys[item.Key] = struct{}{}
	}

	for _, item := range artifacts.items {
		if _, ok := nextKeys[item.Key]; ok {
			continue
		}
		if err := target.Delete(item.Key); err != nil {
			return stats, err
		}
		stats.Deleted++
	}

	listItems := make([]*ListItem, len(next))
	positions := make([]int, len(next))
	for i, item := range next {
		pos, ok := prior[item.Key]
		if !ok {
			positions[i] = -1
			listItems[i] = newListItem(item)
			continue
		}
		positions[i] = pos
		existing := artifacts.items[pos]
		existing.Value.Update(item.Value)
		existing.Memo.Update(item.Memo)
		listItems[i] = existing
		if err := target.Retain(item.Key, existing.Value, existing.Memo); err != nil {
			return stats, err
		}
		stats.Retained++
	}

	stable := stablePositions(positions)
	for i := len(listItems) - 1; i >= 0; i-- {
		item := listItems[i]
		before := ""
		if i+1 < len(listItems) {
			before = listItems[i+1].Key
		}
		switch {
		case positions[i] < 0:
			if err := target.Insert(item.Key, item.Value, item.Memo, before); err != nil {
				return stats, err
			}
			stats.Inserted++
		case !stable[i]:
			if err := target.Move(item.Key, item.Value, item.Memo, before); err != nil {
				return stats, err
			}
			stats.Moved++
		}
	}

	artifacts.items = listItems
	return stats, target.Done()
}

// stablePositions marks the entries of the longest strictly increasing
// subsequence of positions, ignoring negative entries.
func stablePositions(positions []int) []bool {
	stable := make([]bool, len(positions))
	// tails[k] is the index in positions of the smallest tail of an
	// increasing run of length k+1.
	var tails []int
	prev := make([]int, len(positions))
	for i, pos := range positions {
		if pos < 0 {
			continue
		}
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if positions[tails[mid]] < pos {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tails[lo-1]
		} else {
			prev[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}
	if len(tails) == 0 {
		return stable
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		stable[i] = true
	}
	return stable
}
