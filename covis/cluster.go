package covis

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/hloc/mapdb"
)

// Options configures clustering.
type Options struct {
	// Enabled merges neighbors by co-visibility. When disabled, the ranked
	// neighbors form one cluster as-is.
	Enabled bool `yaml:"enabled"`
}

// DefaultOptions enables clustering.
var DefaultOptions = Options{Enabled: true}

// Cluster is a group of database images to match a query against.
type Cluster struct {
	// Seeds are the ranked neighbors absorbed by the cluster, in rank order,
	// with their signed ids.
	Seeds []mapdb.ImageID
	// Images is the aggregate co-visibility set (absolute ids).
	Images *roaring.Bitmap
}

// Members lists the images to match: the seeds in rank order, then the
// remaining images of the aggregate in ascending id order.
func (c Cluster) Members() []mapdb.ImageID {
	out := make([]mapdb.ImageID, 0, c.Images.GetCardinality())
	seen := roaring.New()
	for _, s := range c.Seeds {
		if seen.CheckedAdd(key(s)) {
			out = append(out, s)
		}
	}
	it := c.Images.Iterator()
	for it.HasNext() {
		v := it.Next()
		if !seen.Contains(v) {
			out = append(out, mapdb.ImageID(v))
		}
	}
	return out
}

// Builder forms clusters from ranked neighbors.
type Builder struct {
	graph *Graph
	opts  Options
}

// NewBuilder creates a cluster builder over graph.
func NewBuilder(graph *Graph, optFns ...func(o *Options)) *Builder {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{graph: graph, opts: opts}
}

// Build clusters the ranked neighbors in one greedy pass. The first neighbor
// seeds cluster 0. Every later neighbor contained in an existing cluster's
// aggregate is merged into the first such cluster (its co-visibility set is
// OR-ed in); otherwise it seeds a new cluster. Clusters are never merged with
// each other, so the result depends on rank order.
func (b *Builder) Build(ranked []mapdb.ImageID) []Cluster {
	if len(ranked) == 0 {
		return nil
	}

	if !b.opts.Enabled {
		c := Cluster{Seeds: append([]mapdb.ImageID(nil), ranked...), Images: roaring.New()}
		for _, id := range ranked {
			c.Images.Add(key(id))
		}
		return []Cluster{c}
	}

	// Aggregates are clones; graph sets are shared and stay untouched.
	var arena []Cluster
	for _, id := range ranked {
		merged := false
		for h := range arena {
			if arena[h].Images.Contains(key(id)) {
				arena[h].Images.Or(b.graph.Set(id))
				arena[h].Seeds = append(arena[h].Seeds, id)
				merged = true
				break
			}
		}
		if !merged {
			arena = append(arena, Cluster{
				Seeds:  []mapdb.ImageID{id},
				Images: b.graph.Set(id).Clone(),
			})
		}
	}
	return arena
}

// Union returns the union of all cluster aggregates.
func Union(clusters []Cluster) *roaring.Bitmap {
	sets := make([]*roaring.Bitmap, len(clusters))
	for i, c := range clusters {
		sets[i] = c.Images
	}
	return roaring.FastOr(sets...)
}
