package endpoint

// SliceIterator is an in-memory iterator over a fixed set of values.
type SliceIterator[T any] struct {
	values []T
	idx    int
	err    error
}

// NewSliceIterator wraps values in an Iterator.
func NewSliceIterator[T any](values []T) *SliceIterator[T] {
	return &SliceIterator[T]{values: values}
}

// NewErrorIterator returns an iterator that yields nothing and reports err.
func NewErrorIterator[T any](err error) *SliceIterator[T] {
	return &SliceIterator[T]{err: err}
}

func (it *SliceIterator[T]) Next() bool {
	if it.err != nil {
		return false
	}
	if it.idx >= len(it.values) {
		return false
	}
	it.idx++
	return true
}

func (it *SliceIterator[T]) Value() T {
	if it.idx == 0 || it.idx > len(it.values) {
		var zero T
		return zero
	}
	return it.values[it.idx-1]
}

func (it *SliceIterator[T]) Err() error   { return it.err }
func (it *SliceIterator[T]) Close() error { return nil }
