// Package dimension derives session, user, product, and daily aggregates
// from a compacted batch in one streaming pass.
//
// The pass is sharded: each worker scans the batch and aggregates only
// the keys routed to its shard, so every key is folded in row order by
// exactly one worker and the output is identical to a sequential run for
// any shard count.
package dimension

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/shopsignal/shopsignal/internal/compact"
	"github.com/shopsignal/shopsignal/pkg/types"
)

// unknownValue stands in for empty categorical fields in the product
// dimension, matching the analytical store's reporting convention.
const unknownValue = "unknown"

// Options configures the dimensional builder.
type Options struct {
	// Shards is the number of parallel workers. Purely a throughput knob.
	Shards int
}

// Result holds the four dimensional outputs, each sorted by its key.
type Result struct {
	Sessions []types.Session
	Users    []types.User
	Products []types.Product
	Daily    []types.DailyKPI
}

type sessionAgg struct {
	userID    uint64
	startUnix int64
	endUnix   int64
	events    int64
	products  map[uint64]struct{}
	hasView   bool
	hasCart   bool
	hasRemove bool
	hasBuy    bool
	revenue   float64
}

type userAgg struct {
	firstUnix int64
	lastUnix  int64
	events    int64
	purchases int64
	sessions  map[uint32]struct{}
	spend     float64
}

type productAgg struct {
	lastUnix   int64
	lastOffset int
	categoryID int64
	pathCode   uint32
	brandCode  uint32
	price      float64
}

type dailyAgg struct {
	events    int64
	users     map[uint64]struct{}
	sessions  map[uint32]struct{}
	views     int64
	carts     int64
	purchases int64
	revenue   float64
}

// shardState holds one worker's slice of every key space.
type shardState struct {
	sessions map[uint32]*sessionAgg
	users    map[uint64]*userAgg
	products map[uint64]*productAgg
	daily    map[int64]*dailyAgg
}

func newShardState() *shardState {
	return &shardState{
		sessions: make(map[uint32]*sessionAgg),
		users:    make(map[uint64]*userAgg),
		products: make(map[uint64]*productAgg),
		daily:    make(map[int64]*dailyAgg),
	}
}

// Build runs the dimensional pass over the batch.
func Build(ctx context.Context, batch *compact.Batch, opts Options) (*Result, error) {
	shards := opts.Shards
	if shards < 1 {
		shards = 1
	}

	states := make([]*shardState, shards)
	var wg sync.WaitGroup
	for s := 0; s < shards; s++ {
		states[s] = newShardState()
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			scanShard(batch, states[s], uint32(s), uint32(shards))
		}(s)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return collect(batch, states), nil
}

// scanShard folds every row whose key routes to shard s. Each key space
// is routed independently, so a single row may be folded by up to four
// different workers (session, user, product, day).
func scanShard(batch *compact.Batch, st *shardState, s, shards uint32) {
	rows := batch.Rows()
	for i := 0; i < rows; i++ {
		unix := batch.UnixAt(i)
		kind := batch.KindAt(i)
		price := batch.PriceAt(i)
		isPurchase := kind == types.KindPurchase

		if code := batch.SessionCodeAt(i); shard32(code, shards) == s {
			agg, ok := st.sessions[code]
			if !ok {
				agg = &sessionAgg{startUnix: unix, endUnix: unix, products: make(map[uint64]struct{})}
				st.sessions[code] = agg
			}
			if unix < agg.startUnix {
				agg.startUnix = unix
			}
			if unix > agg.endUnix {
				agg.endUnix = unix
			}
			// Sessions are attributed to the highest user id observed,
			// tolerating key collisions in dirty data.
			if uid := batch.UserAt(i); uid > agg.userID {
				agg.userID = uid
			}
			agg.events++
			agg.products[batch.ProductAt(i)] = struct{}{}
			switch kind {
			case types.KindView:
				agg.hasView = true
			case types.KindCart:
				agg.hasCart = true
			case types.KindRemoveFromCart:
				agg.hasRemove = true
			case types.KindPurchase:
				agg.hasBuy = true
				agg.revenue += price
			}
		}

		if uid := batch.UserAt(i); shard64(uid, shards) == s {
			agg, ok := st.users[uid]
			if !ok {
				agg = &userAgg{firstUnix: unix, lastUnix: unix, sessions: make(map[uint32]struct{})}
				st.users[uid] = agg
			}
			if unix < agg.firstUnix {
				agg.firstUnix = unix
			}
			if unix > agg.lastUnix {
				agg.lastUnix = unix
			}
			agg.events++
			agg.sessions[batch.SessionCodeAt(i)] = struct{}{}
			if isPurchase {
				agg.purchases++
				agg.spend += price
			}
		}

		if pid := batch.ProductAt(i); shard64(pid, shards) == s {
			agg, ok := st.products[pid]
			// Last write wins: later timestamp, or higher batch offset on
			// an exact-timestamp tie.
			if !ok || unix > agg.lastUnix || (unix == agg.lastUnix && i > agg.lastOffset) {
				if !ok {
					agg = &productAgg{}
					st.products[pid] = agg
				}
				agg.lastUnix = unix
				agg.lastOffset = i
				agg.categoryID = batch.CategoryAt(i)
				agg.pathCode = batch.PathCodeAt(i)
				agg.brandCode = batch.BrandCodeAt(i)
				agg.price = price
			}
		}

		if day := unix / 86400; shard64(uint64(day), shards) == s {
			agg, ok := st.daily[day]
			if !ok {
				agg = &dailyAgg{users: make(map[uint64]struct{}), sessions: make(map[uint32]struct{})}
				st.daily[day] = agg
			}
			agg.events++
			agg.users[batch.UserAt(i)] = struct{}{}
			agg.sessions[batch.SessionCodeAt(i)] = struct{}{}
			switch kind {
			case types.KindView:
				agg.views++
			case types.KindCart:
				agg.carts++
			case types.KindPurchase:
				agg.purchases++
				agg.revenue += price
			}
		}
	}
}

// collect materializes the shard maps into key-sorted output tables.
func collect(batch *compact.Batch, states []*shardState) *Result {
	res := &Result{}

	for _, st := range states {
		for code, agg := range st.sessions {
			key, _ := batch.SessionDict().Value(code)
			res.Sessions = append(res.Sessions, types.Session{
				SessionKey:       key,
				UserID:           agg.userID,
				Start:            unixTime(agg.startUnix),
				End:              unixTime(agg.endUnix),
				EventCount:       agg.events,
				DistinctProducts: int64(len(agg.products)),
				HasView:          agg.hasView,
				HasCart:          agg.hasCart,
				HasRemove:        agg.hasRemove,
				HasPurchase:      agg.hasBuy,
				Revenue:          agg.revenue,
			})
		}
		for uid, agg := range st.users {
			res.Users = append(res.Users, types.User{
				UserID:        uid,
				FirstSeen:     unixTime(agg.firstUnix),
				LastSeen:      unixTime(agg.lastUnix),
				EventCount:    agg.events,
				PurchaseCount: agg.purchases,
				SessionCount:  int64(len(agg.sessions)),
				TotalSpend:    agg.spend,
				IsBuyer:       agg.purchases > 0,
			})
		}
		for pid, agg := range st.products {
			path, _ := batch.PathDict().Value(agg.pathCode)
			brand, _ := batch.BrandDict().Value(agg.brandCode)
			if path == "" {
				path = unknownValue
			}
			if brand == "" {
				brand = unknownValue
			}
			res.Products = append(res.Products, types.Product{
				ProductID:    pid,
				CategoryID:   agg.categoryID,
				CategoryPath: path,
				Brand:        brand,
				Price:        agg.price,
			})
		}
		for day, agg := range st.daily {
			res.Daily = append(res.Daily, types.DailyKPI{
				Day:         day,
				Events:      agg.events,
				ActiveUsers: int64(len(agg.users)),
				Sessions:    int64(len(agg.sessions)),
				Views:       agg.views,
				Carts:       agg.carts,
				Purchases:   agg.purchases,
				Revenue:     agg.revenue,
			})
		}
	}

	sort.Slice(res.Sessions, func(i, j int) bool { return res.Sessions[i].SessionKey < res.Sessions[j].SessionKey })
	sort.Slice(res.Users, func(i, j int) bool { return res.Users[i].UserID < res.Users[j].UserID })
	sort.Slice(res.Products, func(i, j int) bool { return res.Products[i].ProductID < res.Products[j].ProductID })
	sort.Slice(res.Daily, func(i, j int) bool { return res.Daily[i].Day < res.Daily[j].Day })

	return res
}

func unixTime(u int64) time.Time {
	return time.Unix(u, 0).UTC()
}

func shard32(key uint32, shards uint32) uint32 {
	if shards == 1 {
		return 0
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], key)
	return murmur3.Sum32(buf[:]) % shards
}

func shard64(key uint64, shards uint32) uint32 {
	if shards == 1 {
		return 0
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return murmur3.Sum32(buf[:]) % shards
}
