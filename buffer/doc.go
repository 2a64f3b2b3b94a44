// Package buffer implements the page-granular memory subsystem that supplies
// working memory to operators: size-classed volatile regions carved out of a
// virtual-address reservation, per-page Frame control words with an ABA-safe
// version counter, a budgeted BufferPool with second-chance eviction, a
// file-backed StorageRegion for dirty write-back, and the PageAllocator that
// ties them together behind an allocate/deallocate contract.
package buffer
