package insert

import (
	"fmt"

	"github.com/tsdbnode/tsdbnode/internal/cluster"
	"github.com/tsdbnode/tsdbnode/internal/codec"
	"github.com/tsdbnode/tsdbnode/internal/store"
)

// QPSuggestedSize is the packer pre-sizing baseline from the original
// siridb_insert_new, divided across the number of pools a payload fans out
// to, so a wide cluster does not over-allocate per-pool write buffers.
const QPSuggestedSize = 65536

// NameLenMax is the exclusive upper bound on a series name's length: names
// of length 1..NameLenMax-1 are accepted, NameLenMax and above are rejected.
const NameLenMax = 65536

// suggestedBufferSize mirrors QP_SUGGESTED_SIZE / (N/4 + 1).
func suggestedBufferSize(nPools int) int {
	return QPSuggestedSize / (nPools/4 + 1)
}

// ParsePayload decodes a client insert request, handling both the
// map-shape ({"series.name": [[ts, val], ...], ...}) and array-shape
// ([{name: "series.name", points: [[ts, val], ...]}, ...]) request bodies,
// the Go analogue of siridb_insert_assign_pools' top-level dispatch. ss
// supplies the database's configured timestamp range (ValidTS), checked for
// every point as it is parsed.
func ParsePayload(r *codec.Reader, ss *store.SeriesStore) ([]ParsedPoint, error) {
	cursor := r.Save()
	tag, ok := r.Peek()
	if !ok {
		return nil, newParseErr(ErrInvalidSchema)
	}

	switch tag {
	case codec.TagMapOpen:
		return parseMapShape(r, ss)
	case codec.TagArrayOpen:
		r.Restore(cursor)
		return parseArrayShape(r, ss)
	default:
		return nil, newParseErr(ErrInvalidSchema)
	}
}

func parseMapShape(r *codec.Reader, ss *store.SeriesStore) ([]ParsedPoint, error) {
	if _, err := r.Next(); err != nil { // consume TagMapOpen
		return nil, err
	}

	seen := make(map[string]bool)
	var out []ParsedPoint

	for {
		tag, ok := r.Peek()
		if !ok {
			return nil, newParseErr(ErrInvalidSchema)
		}
		if tag == codec.TagEnd {
			r.Next()
			break
		}

		key, err := r.Next()
		if err != nil || key.Kind != codec.KindRaw {
			return nil, newParseErr(ErrSeriesNameInvalid)
		}
		series := string(key.Raw)
		if series == "" {
			return nil, newParseErr(ErrEmptySeries)
		}
		if len(series) >= NameLenMax {
			return nil, newParseErrFor(ErrSeriesNameInvalid, series)
		}
		if seen[series] {
			return nil, newParseErrFor(ErrDuplicateSeries, series)
		}
		seen[series] = true

		arr, err := r.Next()
		if err != nil || arr.Kind != codec.KindArrayOpen {
			return nil, newParseErrFor(ErrInvalidSchema, series)
		}

		nPoints := 0
		for {
			t, ok := r.Peek()
			if !ok {
				return nil, newParseErrFor(ErrInvalidSchema, series)
			}
			if t == codec.TagEnd {
				r.Next()
				break
			}
			pt, err := parsePoint(r, series, ss)
			if err != nil {
				return nil, err
			}
			out = append(out, ParsedPoint{Series: series, Point: pt})
			nPoints++
		}
		if nPoints == 0 {
			return nil, newParseErrFor(ErrEmptyPointsList, series)
		}
	}

	if len(out) == 0 {
		return nil, newParseErr(ErrEmptyPointsList)
	}
	return out, nil
}

// parseArrayShape decodes the array-shape request body: a top-level array of
// maps, each carrying a "name" key and a "points" key (in either order) plus
// any number of unrecognized keys, which are skipped. Because "points" may
// arrive before "name" on the wire, its decoded points are held in a scratch
// slice until "name" is seen, then emitted against the now-known series.
func parseArrayShape(r *codec.Reader, ss *store.SeriesStore) ([]ParsedPoint, error) {
	if _, err := r.Next(); err != nil { // consume TagArrayOpen
		return nil, err
	}

	var out []ParsedPoint
	for {
		tag, ok := r.Peek()
		if !ok {
			return nil, newParseErr(ErrInvalidSchema)
		}
		if tag == codec.TagEnd {
			r.Next()
			break
		}

		elem, err := r.Next()
		if err != nil || elem.Kind != codec.KindMapOpen {
			return nil, newParseErr(ErrNameAndPointsExpected)
		}

		var series string
		var scratch []store.Point
		haveName := false
		sawPoints := false
		nPoints := 0

		emit := func(pts []store.Point) {
			for _, p := range pts {
				out = append(out, ParsedPoint{Series: series, Point: p})
				nPoints++
			}
		}

		for {
			kt, ok := r.Peek()
			if !ok {
				return nil, newParseErr(ErrInvalidSchema)
			}
			if kt == codec.TagEnd {
				r.Next()
				break
			}

			key, err := r.Next()
			if err != nil || key.Kind != codec.KindRaw {
				return nil, newParseErr(ErrNameAndPointsExpected)
			}

			switch string(key.Raw) {
			case "name":
				nameV, err := r.Next()
				if err != nil || nameV.Kind != codec.KindRaw {
					return nil, newParseErr(ErrSeriesNameInvalid)
				}
				series = string(nameV.Raw)
				if series == "" {
					return nil, newParseErr(ErrEmptySeries)
				}
				if len(series) >= NameLenMax {
					return nil, newParseErrFor(ErrSeriesNameInvalid, series)
				}
				haveName = true
				if sawPoints {
					emit(scratch)
					scratch = nil
				}
			case "points":
				pts, err := parsePointsArray(r, series, ss)
				if err != nil {
					return nil, err
				}
				sawPoints = true
				if haveName {
					emit(pts)
				} else {
					scratch = pts
				}
			default:
				if err := r.Skip(); err != nil {
					return nil, err
				}
			}
		}

		if !haveName || !sawPoints {
			return nil, newParseErrFor(ErrNameAndPointsExpected, series)
		}
		if nPoints == 0 {
			return nil, newParseErrFor(ErrEmptyPointsList, series)
		}
	}

	if len(out) == 0 {
		return nil, newParseErr(ErrEmptyPointsList)
	}
	return out, nil
}

// parsePointsArray decodes a "points" array: zero or more [ts, value] pairs.
func parsePointsArray(r *codec.Reader, series string, ss *store.SeriesStore) ([]store.Point, error) {
	arr, err := r.Next()
	if err != nil || arr.Kind != codec.KindArrayOpen {
		return nil, newParseErrFor(ErrInvalidSchema, series)
	}
	var pts []store.Point
	for {
		t, ok := r.Peek()
		if !ok {
			return nil, newParseErrFor(ErrInvalidSchema, series)
		}
		if t == codec.TagEnd {
			r.Next()
			break
		}
		pt, err := parsePoint(r, series, ss)
		if err != nil {
			return nil, err
		}
		pts = append(pts, pt)
	}
	return pts, nil
}

// parsePoint decodes one [ts, value] pair, written with the compact
// TagArray2 shorthand, checking ts against ss's configured range.
func parsePoint(r *codec.Reader, series string, ss *store.SeriesStore) (store.Point, error) {
	marker, err := r.Next()
	if err != nil || marker.Kind != codec.KindArray2 {
		return store.Point{}, newParseErrFor(ErrMismatchingArrayLength, series)
	}

	tsV, err := r.Next()
	if err != nil || tsV.Kind != codec.KindInt64 || tsV.Int64 < 0 {
		return store.Point{}, newParseErrFor(ErrTimestampInvalid, series)
	}
	if !ss.ValidTS(tsV.Int64) {
		return store.Point{}, newParseErrFor(ErrTimestampOutOfRange, series)
	}

	valV, err := r.Next()
	if err != nil {
		return store.Point{}, newParseErrFor(ErrValueTypeInvalid, series)
	}

	return pointFromValue(tsV.Int64, valV, series)
}

// pointFromValue builds a store.Point from a decoded value, accepting the
// three value shapes the spec allows (int64, double, raw bytes) and
// rejecting everything else as ErrValueTypeInvalid — the parse-time half of
// the type check; SeriesStore.AddPoint enforces the other half (a series'
// first value fixes its type for its lifetime).
func pointFromValue(ts int64, valV codec.Value, series string) (store.Point, error) {
	switch valV.Kind {
	case codec.KindInt64:
		return store.Point{TS: ts, Kind: store.KindInt64, IntVal: valV.Int64}, nil
	case codec.KindDouble:
		return store.Point{TS: ts, Kind: store.KindDouble, FloatVal: valV.Double}, nil
	case codec.KindRaw:
		return store.Point{TS: ts, Kind: store.KindRaw, RawVal: valV.Raw}, nil
	default:
		return store.Point{}, newParseErrFor(ErrValueTypeInvalid, series)
	}
}

// AssignPools groups parsed points by destination pool and pre-encodes
// each pool's own wire payload, the Go analogue of
// siridb_insert_points_to_pools' per-pool packer construction. Per-series
// pool selection accounts for an in-progress re-index via
// poolForAssignment.
func AssignPools(pt *cluster.PoolTable, ss *store.SeriesStore, points []ParsedPoint) []PoolBatch {
	pools := pt.Pools()
	writers := make(map[uint32]*codec.Writer, len(pools))
	counts := make(map[uint32]int, len(pools))

	bufSize := suggestedBufferSize(len(pools))

	order := make([]uint32, 0, len(pools))
	last := make(map[uint32]string, len(pools))
	for _, p := range points {
		poolID := poolForAssignment(pt, ss, p.Series)
		w, ok := writers[poolID]
		if !ok {
			w = codec.NewWriter(bufSize)
			w.WriteMapOpen()
			writers[poolID] = w
			order = append(order, poolID)
		}
		if !ok || last[poolID] != p.Series {
			if ok {
				w.WriteEnd() // close the previous series' points array
			}
			w.WriteString(p.Series)
			w.WriteArrayOpen()
			last[poolID] = p.Series
		}
		encodePoint(w, p.Point)
		counts[poolID]++
	}

	batches := make([]PoolBatch, 0, len(order))
	for _, poolID := range order {
		w := writers[poolID]
		w.WriteEnd() // close the last series' points array
		w.WriteEnd() // close top-level map
		batches = append(batches, PoolBatch{PoolID: poolID, Payload: w.Bytes(), NPoints: counts[poolID]})
	}
	return batches
}

// poolForAssignment selects a series' destination pool the way Router's
// per-series assignment must during re-indexing: a series this node already
// stores locally always stays on its own pool; a series it does not store
// is routed by the pre-reshard mapping, falling back to the live mapping if
// that still resolves to our own pool (we know we don't own it, so the new
// mapping must apply instead).
func poolForAssignment(pt *cluster.PoolTable, ss *store.SeriesStore, series string) uint32 {
	if !pt.Reindexing() {
		return pt.PoolForSeries(series)
	}
	if ss.Get(series) {
		return pt.LocalID()
	}
	prev := pt.PrevPoolForSeries(series)
	if prev == pt.LocalID() {
		return pt.PoolForSeries(series)
	}
	return prev
}

func encodePoint(w *codec.Writer, p store.Point) {
	w.WriteArray2()
	w.WriteInt64(p.TS)
	switch p.Kind {
	case store.KindInt64:
		w.WriteInt64(p.IntVal)
	case store.KindDouble:
		w.WriteDouble(p.FloatVal)
	case store.KindRaw:
		w.WriteRaw(p.RawVal)
	default:
		panic(fmt.Sprintf("insert: unknown point kind %d", p.Kind))
	}
}

// encodeForward encodes a single series' points for Replicator.Replicate's
// publish to the local pool's replica, reusing the same map-shape wire
// format as a normal insert so the receiving server's Router can parse it
// unchanged.
func encodeForward(series string, pts []store.Point) []byte {
	w := codec.NewWriter(suggestedBufferSize(1))
	w.WriteMapOpen()
	w.WriteString(series)
	w.WriteArrayOpen()
	for _, p := range pts {
		encodePoint(w, p)
	}
	w.WriteEnd()
	w.WriteEnd()
	return w.Bytes()
}

// encodeForwardJob encodes every series bucketed into a single ForwardJob as
// one map-shape payload, so a pool with several mis-routed series in one
// batch is forwarded in a single request instead of one per series.
func encodeForwardJob(j *ForwardJob) []byte {
	w := codec.NewWriter(suggestedBufferSize(1))
	w.WriteMapOpen()
	for _, e := range j.Entries {
		w.WriteString(e.Series)
		w.WriteArrayOpen()
		for _, p := range e.Points {
			encodePoint(w, p)
		}
		w.WriteEnd()
	}
	w.WriteEnd()
	return w.Bytes()
}
