// internal/schedule/index.go
package schedule

import (
	"sort"
	"time"

	"github.com/tamzrod/fieldbus-poller/internal/address"
	"github.com/tamzrod/fieldbus-poller/internal/model"
)

// Item is one scheduled tag and the time it is next due.
type Item struct {
	Tag *model.Tag
	Due time.Time
}

// Index is device -> space -> tag id -> item. It is not safe for
// concurrent use; the Scheduler guards it.
type Index struct {
	devices map[string]map[address.Space]map[string]*Item
	byTag   map[string]*Item
}

func NewIndex() *Index {
	return &Index{
		devices: make(map[string]map[address.Space]map[string]*Item),
		byTag:   make(map[string]*Item),
	}
}

// Add inserts or replaces a tag.
func (x *Index) Add(t *model.Tag, due time.Time) {
	x.Remove(t.ID)

	spaces := x.devices[t.Device]
	if spaces == nil {
		spaces = make(map[address.Space]map[string]*Item)
		x.devices[t.Device] = spaces
	}
	items := spaces[t.Addr.Space]
	if items == nil {
		items = make(map[string]*Item)
		spaces[t.Addr.Space] = items
	}

	it := &Item{Tag: t, Due: due}
	items[t.ID] = it
	x.byTag[t.ID] = it
}

// Remove deletes a tag and reports whether it was present.
func (x *Index) Remove(id string) bool {
	it, ok := x.byTag[id]
	if !ok {
		return false
	}
	delete(x.byTag, id)

	t := it.Tag
	spaces := x.devices[t.Device]
	delete(spaces[t.Addr.Space], id)
	if len(spaces[t.Addr.Space]) == 0 {
		delete(spaces, t.Addr.Space)
	}
	if len(spaces) == 0 {
		delete(x.devices, t.Device)
	}
	return true
}

// Get returns the item for a tag id.
func (x *Index) Get(id string) (Item, bool) {
	it, ok := x.byTag[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Reset makes every tag due at now.
func (x *Index) Reset(now time.Time) {
	for _, it := range x.byTag {
		it.Due = now
	}
}

func (x *Index) Len() int {
	return len(x.byTag)
}

// Devices returns the indexed device ids in sorted order.
func (x *Index) Devices() []string {
	out := make([]string, 0, len(x.devices))
	for d := range x.devices {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// due collects, per space, the items of device that are due at now.
func (x *Index) due(device string, now time.Time) map[address.Space][]*Item {
	out := make(map[address.Space][]*Item)
	for space, items := range x.devices[device] {
		for _, it := range items {
			if !now.Before(it.Due) {
				out[space] = append(out[space], it)
			}
		}
	}
	return out
}
