// Package blockiter declares the minimal iterator contract table cache and
// twolevel consume and produce. The concrete SSTable block format and
// comparator are external collaborators out of scope for this port
// (the on-disk format is a documented contract, not something this module
// implements); anything satisfying this interface — index iterator or data
// iterator — can be driven by twolevel.Iterator.
package blockiter

// Iterator is a forward/backward cursor over an ordered sequence of
// key/value pairs, grounded on original_source/table/iterator.h's contract.
type Iterator interface {
	Seek(target []byte)
	SeekToFirst()
	SeekToLast()
	Next()
	Prev()
	Valid() bool
	Key() []byte
	Value() []byte
	Status() error
}
