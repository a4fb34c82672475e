package runtime

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/metrics"
)

// PrimitiveID names the graph node that owns a pooled allocation.
type PrimitiveID = string

// PrimitiveSet is a set of primitive ids.
type PrimitiveSet map[PrimitiveID]struct{}

// NewPrimitiveSet builds a set from ids.
func NewPrimitiveSet(ids ...PrimitiveID) PrimitiveSet {
	s := make(PrimitiveSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s PrimitiveSet) Contains(id PrimitiveID) bool {
	_, ok := s[id]
	return ok
}

type memoryUser struct {
	id        PrimitiveID
	networkID uint32
}

type memoryRecord struct {
	users     map[memoryUser]PrimitiveSet
	mem       Memory
	networkID uint32
	allocType AllocationType
	bytes     uint64
}

// conflicts reports whether id with restrictions deps may not share the
// record: either a current user is one of deps or id is a dependency of a
// current user.
func (r *memoryRecord) conflicts(id PrimitiveID, deps PrimitiveSet) bool {
	for u, userDeps := range r.users {
		if deps.Contains(u.id) || userDeps.Contains(id) {
			return true
		}
	}
	return false
}

// PoolStats is a snapshot of the pool counters.
type PoolStats struct {
	Records  int    `json:"records"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Bypassed uint64 `json:"bypassed"`
	Used     uint64 `json:"usedBytes"`
	Peak     uint64 `json:"peakBytes"`
}

// MemoryPool hands out device memory for an engine, sharing allocations
// between primitives whose lifetimes do not overlap. It is owned by exactly
// one engine.
type MemoryPool struct {
	engine Engine
	log    *zap.Logger

	mu      sync.Mutex
	records []*memoryRecord
	closed  atomic.Bool

	used   atomic.Uint64
	peak   atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
	bypass atomic.Uint64
}

// NewMemoryPool creates the pool of engine.
func NewMemoryPool(engine Engine, log *zap.Logger) *MemoryPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryPool{engine: engine, log: log.Named("pool")}
}

func (p *MemoryPool) engineID() string {
	if p.engine == nil {
		return ""
	}
	return p.engine.ID()
}

// GetMemory returns memory for primitive id of network networkID. When
// reusable, an existing allocation of the same network and type, large
// enough and not in conflict with deps is shared through a reused view;
// otherwise a new allocation is made and, if reusable, registered with users
// {id}. Image layouts are never pooled.
func (p *MemoryPool) GetMemory(layout Layout, id PrimitiveID, networkID uint32, deps PrimitiveSet, t AllocationType, reusable bool) (Memory, error) {
	if layout.Format.IsImage2D() {
		return p.GetMemoryDirect(layout, t)
	}
	need := layout.BytesCount()
	if reusable {
		p.mu.Lock()
		for _, rec := range p.records {
			if rec.bytes < need || rec.networkID != networkID || rec.allocType != t || rec.conflicts(id, deps) {
				continue
			}
			view, err := p.engine.ReinterpretBuffer(rec.mem, layout)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			rec.users[memoryUser{id: id, networkID: networkID}] = cloneSet(deps)
			p.mu.Unlock()
			p.hits.Add(1)
			metrics.PoolRequests.WithLabelValues(p.engineID(), "hit").Inc()
			p.log.Debug("reusing pooled memory",
				zap.String("primitive", id),
				zap.Uint32("network", networkID),
				zap.Uint64("bytes", need),
				zap.Uint64("record_bytes", rec.bytes))
			return view, nil
		}
		p.mu.Unlock()
	}

	mem, err := p.engine.AllocateMemory(layout, t)
	if err != nil {
		return nil, err
	}
	p.misses.Add(1)
	metrics.PoolRequests.WithLabelValues(p.engineID(), "miss").Inc()
	if !reusable {
		return mem, nil
	}

	mem.Retain()
	rec := &memoryRecord{
		users:     map[memoryUser]PrimitiveSet{{id: id, networkID: networkID}: cloneSet(deps)},
		mem:       mem,
		networkID: networkID,
		allocType: t,
		bytes:     need,
	}
	p.mu.Lock()
	i := sort.Search(len(p.records), func(i int) bool { return p.records[i].bytes >= need })
	p.records = append(p.records, nil)
	copy(p.records[i+1:], p.records[i:])
	p.records[i] = rec
	p.mu.Unlock()
	return mem, nil
}

// GetMemoryDirect allocates without pooling.
func (p *MemoryPool) GetMemoryDirect(layout Layout, t AllocationType) (Memory, error) {
	mem, err := p.engine.AllocateMemory(layout, t)
	if err != nil {
		return nil, err
	}
	p.bypass.Add(1)
	metrics.PoolRequests.WithLabelValues(p.engineID(), "bypass").Inc()
	return mem, nil
}

// ReleaseMemory removes id from the users of the record backing mem. A
// record left without users is dropped and its allocation released.
func (p *MemoryPool) ReleaseMemory(mem Memory, id PrimitiveID, networkID uint32) {
	p.mu.Lock()
	var dropped Memory
	for i, rec := range p.records {
		if !p.engine.IsTheSameBuffer(rec.mem, mem) {
			continue
		}
		user := memoryUser{id: id, networkID: networkID}
		if _, ok := rec.users[user]; !ok {
			continue
		}
		delete(rec.users, user)
		if len(rec.users) == 0 {
			p.records = append(p.records[:i], p.records[i+1:]...)
			dropped = rec.mem
		}
		break
	}
	p.mu.Unlock()
	if dropped != nil {
		dropped.Release()
	}
}

// ClearPool drops every record.
func (p *MemoryPool) ClearPool() {
	p.mu.Lock()
	records := p.records
	p.records = nil
	p.mu.Unlock()
	for _, rec := range records {
		rec.mem.Release()
	}
}

// ClearPoolForNetwork drops the records of one network.
func (p *MemoryPool) ClearPoolForNetwork(networkID uint32) {
	p.mu.Lock()
	var dropped []*memoryRecord
	kept := p.records[:0]
	for _, rec := range p.records {
		if rec.networkID == networkID {
			dropped = append(dropped, rec)
			continue
		}
		kept = append(kept, rec)
	}
	clear(p.records[len(kept):])
	p.records = kept
	p.mu.Unlock()
	for _, rec := range dropped {
		rec.mem.Release()
	}
}

// AddMemoryUsed accounts a new allocation and raises the peak if needed.
func (p *MemoryPool) AddMemoryUsed(bytes uint64) {
	used := p.used.Add(bytes)
	for {
		peak := p.peak.Load()
		if used <= peak || p.peak.CompareAndSwap(peak, used) {
			break
		}
	}
	p.publish()
}

// SubtractMemoryUsed accounts a released allocation. It is a no-op once the
// pool is closed.
func (p *MemoryPool) SubtractMemoryUsed(bytes uint64) {
	if p.closed.Load() {
		return
	}
	for {
		used := p.used.Load()
		next := uint64(0)
		if used > bytes {
			next = used - bytes
		}
		if p.used.CompareAndSwap(used, next) {
			break
		}
	}
	p.publish()
}

func (p *MemoryPool) publish() {
	id := p.engineID()
	metrics.DeviceMemoryUsed.WithLabelValues(id).Set(float64(p.used.Load()))
	metrics.DeviceMemoryPeak.WithLabelValues(id).Set(float64(p.peak.Load()))
}

// TempMemoryUsed is the number of bytes currently allocated.
func (p *MemoryPool) TempMemoryUsed() uint64 { return p.used.Load() }

// MaxPeakMemoryUsed is the highest value TempMemoryUsed ever reached.
func (p *MemoryPool) MaxPeakMemoryUsed() uint64 { return p.peak.Load() }

// Stats returns a snapshot of the pool counters.
func (p *MemoryPool) Stats() PoolStats {
	p.mu.Lock()
	records := len(p.records)
	p.mu.Unlock()
	return PoolStats{
		Records:  records,
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Bypassed: p.bypass.Load(),
		Used:     p.used.Load(),
		Peak:     p.peak.Load(),
	}
}

// Close drops every record and stops accounting releases.
func (p *MemoryPool) Close() {
	p.ClearPool()
	p.closed.Store(true)
	metrics.DeviceMemoryUsed.DeleteLabelValues(p.engineID())
	metrics.DeviceMemoryPeak.DeleteLabelValues(p.engineID())
}

func (p *MemoryPool) String() string {
	s := p.Stats()
	return fmt.Sprintf("pool(records=%d used=%d peak=%d)", s.Records, s.Used, s.Peak)
}

func cloneSet(s PrimitiveSet) PrimitiveSet {
	out := make(PrimitiveSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
