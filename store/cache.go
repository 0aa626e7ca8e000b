package store

import (
	"github.com/duanyating0315/canu/tig"
)

// cache holds the live tig objects of a store, indexed by tig id. A nil slot
// means the tig isn't loaded.
type cache struct {
	tigs   []*tig.Tig
	loaded int
}

func (c *cache) get(id uint32) *tig.Tig {
	if int(id) < len(c.tigs) {
		return c.tigs[id]
	}
	return nil
}

// put installs t for id, replacing (and dropping) anything already there.
func (c *cache) put(id uint32, t *tig.Tig) {
	for int(id) >= len(c.tigs) {
		c.tigs = append(c.tigs, nil)
	}

	if c.tigs[id] == nil {
		c.loaded++
	}
	c.tigs[id] = t
}

// evict removes id from the cache and returns what was there.
func (c *cache) evict(id uint32) *tig.Tig {
	t := c.get(id)
	if t != nil {
		c.tigs[id] = nil
		c.loaded--
	}
	return t
}

// ids returns the ids of all loaded tigs, in order.
func (c *cache) ids() []uint32 {
	ids := make([]uint32, 0, c.loaded)
	for id, t := range c.tigs {
		if t != nil {
			ids = append(ids, uint32(id))
		}
	}
	return ids
}

func (c *cache) len() int {
	return c.loaded
}

func (c *cache) clear() {
	c.tigs = nil
	c.loaded = 0
}
