/*
Package buffer implements a paged elastic FIFO: a single-reader,
single-writer byte queue backed by a virtual array of fixed-size pages that
spill from anonymous memory to disk under memory pressure.

# Overview

The buffer addresses up to PageSize * TableSize bytes (about one pebibyte)
through a flat page table. Each slot in the table is independently in one of
four states, tracked as two flag bits:

  - untouched: never pinned
  - mapped: an anonymous in-memory page
  - mapped|ondisk: a file-backed page, currently mapped
  - ondisk: a file-backed page, not currently mapped

Most slots are never touched; the table's backing arrays are large virtual
allocations that the kernel leaves un-faulted.

# Page lifecycle

A slot is born untouched. The first Pin maps it anonymously while the
anonymous-page budget lasts, and file-backed once the budget is exhausted.
A live file-backed page may alternate between mapped and unmapped through
Pin and Unpin. Free permanently releases the slot: the spill file is
unlinked, or the anonymous mapping is returned to the budget. Callers only
ever advance through slot indices, so a freed slot is never revisited.

# Memory pressure

The budget of anonymous pages is initialized to half of physical memory.
If an anonymous mapping ever fails with ENOMEM the budget is clamped to
zero for the remainder of the process and the headroom reserve, a single
4-page allocation held since construction, is released so that the
file-backed mapping replacing the failed allocation has kernel-side room
to succeed. Every page after that point is created file-backed.

# Concurrency

The table is owned by a single goroutine. Operations are never invoked
concurrently and no locking is performed.
*/
package buffer
