// transmission.go - per-lane transmission buffer with fairness scheduling.
// Copyright (C) 2018  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package transmission implements the Transmission Buffer: real packets are filed per lane and popped one at a time
// by the out-queue controller via PopNextMessageAtRandom, using a
// small-lane-first, then old-lane-biased, then uniform fallback
// heuristic to avoid head-of-line blocking on large uploads.
package transmission

import (
	mathrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/nymtech/nym-sub018/constants"
	"github.com/nymtech/nym-sub018/metrics"
)

// Lane identifies an independent FIFO of packets competing for the
// out-queue's attention, e.g. one per application connection.
type Lane string

type laneEntry struct {
	items               *queue.Queue
	messagesTransmitted int
	lastActivity        time.Time
}

func (e *laneEntry) isSmall() bool {
	return e.items.Length() < constants.SmallLaneSize
}

func (e *laneEntry) isStale(now time.Time) bool {
	return now.Sub(e.lastActivity) > constants.StaleLaneAfter
}

// Buffer is the Transmission Buffer.
type Buffer struct {
	mu   sync.Mutex
	now  func() time.Time
	lanes map[Lane]*laneEntry
}

// New constructs an empty Buffer.
func New() *Buffer {
	return &Buffer{
		now:   time.Now,
		lanes: make(map[Lane]*laneEntry),
	}
}

// Store appends items to lane, creating it if absent.
func (b *Buffer) Store(lane Lane, items ...interface{}) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lanes[lane]
	if !ok {
		e = &laneEntry{items: queue.New(), lastActivity: b.now()}
		b.lanes[lane] = e
	}
	for _, item := range items {
		e.items.Add(item)
	}
	e.lastActivity = b.now()
	metrics.LaneCount.Set(float64(len(b.lanes)))
}

// NumLanes reports the number of currently populated lanes.
func (b *Buffer) NumLanes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lanes)
}

// LaneLength reports how many items are queued in lane.
func (b *Buffer) LaneLength(lane Lane) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.lanes[lane]; ok {
		return e.items.Length()
	}
	return 0
}

// TotalSize reports the number of items queued across all lanes.
func (b *Buffer) TotalSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, e := range b.lanes {
		total += e.items.Length()
	}
	return total
}

func (b *Buffer) smallLanes() []Lane {
	var out []Lane
	for lane, e := range b.lanes {
		if e.isSmall() {
			out = append(out, lane)
		}
	}
	return out
}

// oldestSet returns up to OldestLaneSetSize lanes with the most
// messages_transmitted, i.e. the long-running lanes to bias towards so
// they drain to completion instead of getting starved by newer lanes.
func (b *Buffer) oldestSet() []Lane {
	type kv struct {
		lane Lane
		n    int
	}
	all := make([]kv, 0, len(b.lanes))
	for lane, e := range b.lanes {
		all = append(all, kv{lane, e.messagesTransmitted})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].n > all[j].n })

	limit := constants.OldestLaneSetSize
	if limit > len(all) {
		limit = len(all)
	}
	out := make([]Lane, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[i].lane
	}
	return out
}

func (b *Buffer) anyLane() []Lane {
	out := make([]Lane, 0, len(b.lanes))
	for lane := range b.lanes {
		out = append(out, lane)
	}
	return out
}

func pickRandom(lanes []Lane) (Lane, bool) {
	if len(lanes) == 0 {
		return "", false
	}
	return lanes[mathrand.Intn(len(lanes))], true
}

// PopNextMessageAtRandom implements the §4.3 scheduling algorithm: prefer
// a small lane, else bias 2/3 toward the oldest-lane set, else pick
// uniformly among all populated lanes.
func (b *Buffer) PopNextMessageAtRandom() (Lane, interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lanes) == 0 {
		return "", nil, false
	}

	lane, ok := pickRandom(b.smallLanes())
	if !ok {
		if mathrand.Intn(constants.OldLaneBiasDenominator) < constants.OldLaneBiasNumerator {
			lane, ok = pickRandom(b.oldestSet())
		}
		if !ok {
			lane, ok = pickRandom(b.anyLane())
		}
	}
	if !ok {
		return "", nil, false
	}

	e := b.lanes[lane]
	item := e.items.Remove()
	e.messagesTransmitted++
	if e.items.Length() == 0 {
		delete(b.lanes, lane)
	}
	metrics.LaneCount.Set(float64(len(b.lanes)))
	return lane, item, true
}

// PruneStaleConnections drops lanes whose last activity exceeds
// StaleLaneAfter, discarding their queued messages.
func (b *Buffer) PruneStaleConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	for lane, e := range b.lanes {
		if e.isStale(now) {
			delete(b.lanes, lane)
			metrics.StaleLanesPruned.Inc()
		}
	}
	metrics.LaneCount.Set(float64(len(b.lanes)))
}
