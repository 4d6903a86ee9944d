package kvcache

import "fmt"

// Convert rebuilds the committed positions of old in the requested
// representation. The old cache is left untouched and should be discarded by
// the caller. When old already has the requested kind it is returned as is.
func Convert(old Cache, kind Kind) (Cache, error) {
	if old == nil {
		return nil, fmt.Errorf("kvcache: convert nil cache")
	}
	if old.Kind() == kind {
		return old, nil
	}
	next, err := New(kind, old.Layers(), old.Dim(), old.Capacity())
	if err != nil {
		return nil, err
	}
	n := old.Len()
	var k, v []float32
	for layer := 0; layer < old.Layers(); layer++ {
		for pos := 0; pos < n; pos++ {
			k = old.Key(layer, pos, k)
			v = old.Value(layer, pos, v)
			if err := next.Store(layer, pos, k, v); err != nil {
				return nil, fmt.Errorf("kvcache: convert %s to %s: %w", old.Kind(), kind, err)
			}
		}
	}
	return next, nil
}
