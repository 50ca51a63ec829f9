// Package jit implements the per-guest JIT cache and BasicBlock runtime:
// guard-flag specialization, background recompilation, and the execution
// state machine that chooses between the interpreter, the bytecode
// Routine, and a native Routine on every call (spec §4.7, §5).
//
// Grounded on the teacher's engine/engine_cache.go module-engine cache
// (`_teacher_ref/wazevo/engine_cache.go`, `engine.go`): a mutex-protected
// map from a lookup key to a compiled artifact, looked up on the hot path
// and populated off it. wazevo's cache is keyed by wasm.Module and caches
// whole-module machine code; this module's Cache is keyed by a per-guest
// (virtual, physical) address pair and caches one BasicBlock at a time,
// the granularity spec §3's "JIT cache" describes, but the shape — RLock
// for lookup, Lock for insert/evict, reference counting so a running block
// survives a concurrent evict — is the same pattern.
package jit

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/retrojit/dbtjit/internal/backend"
	"github.com/retrojit/dbtjit/internal/dbtapi"
	"github.com/retrojit/dbtjit/internal/ir"
)

// Key identifies a cached unit by both its guest-virtual and guest-physical
// address, per spec §3 ("keyed by (virtual_address, physical_address)") —
// distinct guests/processes mapping the same virtual address to different
// physical pages must not share a cache entry.
type Key struct {
	VirtualAddress  uint64
	PhysicalAddress uint64
}

// entry is the cache's refcounted ownership wrapper around a BasicBlock
// (spec §3: "Ownership is reference-counted because a running block may be
// in flight on one thread while another thread tries to evict it.").
type entry struct {
	block *BasicBlock
	refs  int32
}

// Compilers bundles the back-end Compiler instances a Cache compiles
// queued units through: bytecode is always attempted (spec's universal
// fallback), Native is the architecture-selected back-end (amd64 or
// arm64), nil if none is available for the host architecture or the
// front-end chose interpreter+bytecode only.
type Compilers struct {
	Bytecode backend.Compiler
	Native   backend.Compiler
}

// Cache owns a guest's compiled BasicBlocks, keyed by (virtual, physical)
// address. One Cache is constructed per guest CPU instance.
type Cache struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	byAddr   []uint64 // sorted virtual addresses currently cached, for TrailingUnit
	compilers Compilers

	workers  workerPool
	closed   int32

	// compileMu serializes access to compilers.Native's fastmem toggle: the
	// Compiler is one shared instance reconfigured per job (SetMemoryLoadEmitter
	// before each Compile call), so concurrent workers compiling against it
	// must not interleave configure-then-compile.
	compileMu sync.Mutex
}

// NewCache constructs an empty Cache compiling queued units through
// compilers. workerCount is the number of background compile goroutines
// (spec §5: "a background compile worker may own in-progress translation
// of a specific BasicBlock"); 1 is a reasonable default for a single-guest
// embedding, more lets native and bytecode compiles for different blocks
// overlap.
func NewCache(compilers Compilers, workerCount int) *Cache {
	c := &Cache{
		entries:   make(map[Key]*entry),
		compilers: compilers,
	}
	c.workers.start(workerCount, c.compile)
	return c
}

// Lookup finds the cached block for key, taking a strong reference for the
// caller's duration of use; the caller must call Release when done (spec
// §3: execution "takes a strong reference for the duration of execute()").
func (c *Cache) Lookup(key Key) (*BasicBlock, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	atomic.AddInt32(&e.refs, 1)
	return e.block, true
}

// Release drops the strong reference Lookup or Insert handed back. It is a
// no-op if the block was already evicted and finalized (refs can't go
// negative in that case since Insert/Lookup always pair with exactly one
// Release).
func (c *Cache) Release(key Key) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return
	}
	atomic.AddInt32(&e.refs, -1)
}

// Insert adds a freshly created BasicBlock under key, returning it with one
// strong reference already held (matching Lookup's contract, so callers
// always pair an Insert or Lookup with exactly one Release).
func (c *Cache) Insert(key Key, block *BasicBlock) *BasicBlock {
	c.mu.Lock()
	e := &entry{block: block, refs: 1}
	if _, exists := c.entries[key]; !exists {
		c.insertAddrLocked(key.VirtualAddress)
	}
	c.entries[key] = e
	c.mu.Unlock()
	return block
}

func (c *Cache) insertAddrLocked(addr uint64) {
	i := sort.Search(len(c.byAddr), func(i int) bool { return c.byAddr[i] >= addr })
	c.byAddr = append(c.byAddr, 0)
	copy(c.byAddr[i+1:], c.byAddr[i:])
	c.byAddr[i] = addr
}

// TrailingUnit returns the largest currently-cached virtual address that is
// <= addr, and whether one exists. Front-ends use this to cap a newly
// decoded unit's range so it never overlaps an already-cached one (spec
// §3: "address at or below which a unit currently lives").
func (c *Cache) TrailingUnit(addr uint64) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := sort.Search(len(c.byAddr), func(i int) bool { return c.byAddr[i] > addr })
	if i == 0 {
		return 0, false
	}
	return c.byAddr[i-1], true
}

// InvalidateAll marks every cached block dirty; each will queue its own
// recompile (or fall back to interpretation) the next time it is executed,
// rather than being evicted outright, so in-flight executions are
// unaffected (spec §5).
func (c *Cache) InvalidateAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		e.block.MarkDirty()
	}
}

// GarbageCollect evicts every entry whose key fails keep and whose
// refcount is currently zero (spec §3: "destroyed when the cache evicts or
// the guest resets"). Entries still referenced by an in-flight Execute are
// left in place; GarbageCollect may be called again later to retry them.
func (c *Cache) GarbageCollect(keep func(Key) bool) (evicted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if keep(key) || atomic.LoadInt32(&e.refs) > 0 {
			continue
		}
		delete(c.entries, key)
		c.removeAddrLocked(key.VirtualAddress)
		evicted++
	}
	return evicted
}

func (c *Cache) removeAddrLocked(addr uint64) {
	i := sort.Search(len(c.byAddr), func(i int) bool { return c.byAddr[i] >= addr })
	if i < len(c.byAddr) && c.byAddr[i] == addr {
		c.byAddr = append(c.byAddr[:i], c.byAddr[i+1:]...)
	}
}

// CreateUnit wraps a freshly decoded ExecutionUnit in an unfilled
// BasicBlock and inserts it under key (spec's jit_create_unit + "created
// unfilled when a miss occurs"). The caller (a guest front-end's decoder)
// is responsible for bounding decode per spec §4.7's stop conditions
// before calling this.
func (c *Cache) CreateUnit(key Key, eu *ir.ExecutionUnit, reason StopReason, guardFlags GuardFlags) *BasicBlock {
	block := NewBasicBlock(key.VirtualAddress, eu, reason, guardFlags)
	if dbtapi.PrintIR {
		println(eu.Disassemble())
	}
	return c.Insert(key, block)
}

// QueueCompileUnit submits block for background compilation targeting
// guardFlags, compiling bytecode unconditionally and native when a Native
// compiler is configured and the program doesn't hit one of its declined
// patterns (in which case the block simply keeps running bytecode/
// interpreted, per spec §7's back-end-compilation-failure policy).
func (c *Cache) QueueCompileUnit(block *BasicBlock, guardFlags GuardFlags) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return
	}
	c.workers.submit(compileJob{block: block, guardFlags: guardFlags})
}

// compile runs on a worker goroutine: it never touches the cache's map,
// only the block's own atomically-installed Routine pointers, so it needs
// no coordination with concurrent Lookup/Insert/GarbageCollect calls.
func (c *Cache) compile(job compileJob) {
	block := job.block
	defer atomic.StoreUint32(&block.compileQueued, 0)

	fastmem := !block.FastmemDisabled()

	if c.compilers.Bytecode != nil {
		euCopy := block.ExecutionUnit().Copy()
		if r, err := c.compilers.Bytecode.Compile(euCopy); err == nil {
			block.installBytecode(r)
		}
	}

	if c.compilers.Native != nil {
		c.compileMu.Lock()
		c.compilers.Native.SetMemoryLoadEmitter(nil)
		if fastmem {
			c.compilers.Native.SetMemoryLoadEmitter(func(int) bool { return true })
		}
		euCopy := block.ExecutionUnit().Copy()
		r, err := c.compilers.Native.Compile(euCopy)
		c.compileMu.Unlock()
		if err == nil {
			block.installNative(r, job.guardFlags)
		}
		// Compile failure (spec §7): native stays unavailable, bytecode (or
		// the interpreter) remains the block's dispatch target.
	}
}

// Close stops accepting new compile jobs and waits for in-flight ones to
// finish. It does not evict any cached blocks.
func (c *Cache) Close() {
	atomic.StoreInt32(&c.closed, 1)
	c.workers.stop()
}

type compileJob struct {
	block      *BasicBlock
	guardFlags GuardFlags
}

// workerPool is a small fixed-size goroutine pool draining a job channel,
// the shape spec §5's "background compile worker" describes without
// pulling in a third-party worker-pool library — none appears anywhere in
// the retrieved pack, and the teacher's own compilation paths are
// synchronous (wazevo compiles eagerly on first call), so this one small
// channel-plus-WaitGroup pool is this module's own addition for the
// "queue_compile_unit" behavior spec §3 names explicitly.
type workerPool struct {
	jobs chan compileJob
	wg   sync.WaitGroup
}

func (p *workerPool) start(n int, handle func(compileJob)) {
	if n <= 0 {
		n = 1
	}
	p.jobs = make(chan compileJob, 64)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				handle(job)
			}
		}()
	}
}

func (p *workerPool) submit(job compileJob) {
	select {
	case p.jobs <- job:
	default:
		// Queue saturated: drop the request rather than block the
		// execution thread. The block's compileQueued latch was already
		// set by the caller and is cleared again here so a future Execute
		// call can re-queue it.
		atomic.StoreUint32(&job.block.compileQueued, 0)
	}
}

func (p *workerPool) stop() {
	close(p.jobs)
	p.wg.Wait()
}
