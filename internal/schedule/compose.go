// internal/schedule/compose.go
package schedule

import (
	"sort"

	"github.com/tamzrod/fieldbus-poller/internal/address"
)

// Batch is a run of due tags on one device and one space whose occupied
// ranges touch or overlap.
type Batch struct {
	Device string
	Space  address.Space
	Start  uint32 // first occupied offset
	End    uint32 // last occupied offset
	Items  []Item
}

// Compose orders the due items of one device/space bucket by offset and
// splits them into batches. An item joins the current batch only when its
// offset equals the batch end or end+1.
func Compose(device string, space address.Space, due []*Item) []Batch {
	if len(due) == 0 {
		return nil
	}
	sorted := append([]*Item(nil), due...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].Tag, sorted[j].Tag
		if a.Addr.Offset != b.Addr.Offset {
			return a.Addr.Offset < b.Addr.Offset
		}
		return a.ID < b.ID
	})

	var out []Batch
	var cur *Batch
	for _, it := range sorted {
		start, end := it.Tag.Addr.Offset, it.Tag.End()
		if cur != nil && (start == cur.End || start == cur.End+1) {
			cur.End = max(cur.End, end)
			cur.Items = append(cur.Items, *it)
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &Batch{
			Device: device,
			Space:  space,
			Start:  start,
			End:    end,
			Items:  []Item{*it},
		}
	}
	return append(out, *cur)
}
