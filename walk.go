package pe

// walkBounded visits fixed-width records laid out back to back from off.
// The walk ends when done reports a terminal record, when a record cannot
// be read, or after limit records. It returns the number of records handed
// to visit and whether the limit, rather than a terminator or a short
// read, ended the walk.
//
// Both the import descriptor array and the thunk arrays are walked through
// here so they share one resource guarantee.
func walkBounded(src *Source, off int64, width, limit int, done func(rec []byte) bool, visit func(i int, rec []byte)) (n int, capped bool) {
	if width <= 0 || limit <= 0 {
		return 0, false
	}
	for i := 0; i < limit; i++ {
		rec, err := src.Bytes(off+int64(i)*int64(width), width)
		if err != nil || done(rec) {
			return i, false
		}
		visit(i, rec)
	}
	// A terminator right after the last record means nothing was dropped.
	if rec, err := src.Bytes(off+int64(limit)*int64(width), width); err != nil || done(rec) {
		return limit, false
	}
	return limit, true
}
