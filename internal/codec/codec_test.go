package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTripArray2Point(t *testing.T) {
	w := NewWriter(0)
	w.WriteArray2()
	w.WriteInt64(1700000000)
	w.WriteDouble(3.5)

	r := NewReader(w.Bytes())

	v, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindArray2, v.Kind)

	ts, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindInt64, ts.Kind)
	require.EqualValues(t, 1700000000, ts.Int64)

	val, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindDouble, val.Kind)
	require.InDelta(t, 3.5, val.Double, 0.0001)

	require.Equal(t, 0, r.Len())
}

func TestWriterReaderMapShape(t *testing.T) {
	w := NewWriter(0)
	w.WriteMapOpen()
	w.WriteString("cpu.load")
	w.WriteArrayOpen()
	w.WriteArray2()
	w.WriteInt64(1)
	w.WriteDouble(1.0)
	w.WriteEnd() // close array
	w.WriteEnd() // close map

	r := NewReader(w.Bytes())
	top, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindMapOpen, top.Kind)

	key, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindRaw, key.Kind)
	require.Equal(t, "cpu.load", string(key.Raw))

	arr, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindArrayOpen, arr.Kind)

	pt, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindArray2, pt.Kind)

	err = r.Skip() // consume the timestamp inside the point
	require.NoError(t, err)
}

func TestReaderTruncatedThenExtend(t *testing.T) {
	w := NewWriter(0)
	w.WriteString("abcdef")
	full := w.Bytes()

	r := NewReader(full[:3])
	_, err := r.Next()
	require.ErrorIs(t, err, ErrTruncated)
	require.Equal(t, 3, r.Len())

	r.Extend(full[3:])
	v, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(v.Raw))
}

func TestSaveRestore(t *testing.T) {
	w := NewWriter(0)
	w.WriteMapOpen()
	w.WriteEnd()

	r := NewReader(w.Bytes())
	c := r.Save()
	v, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindMapOpen, v.Kind)

	r.Restore(c)
	v2, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindMapOpen, v2.Kind)
}

func TestSkipNestedArray(t *testing.T) {
	w := NewWriter(0)
	w.WriteArrayOpen()
	w.WriteInt64(1)
	w.WriteArrayOpen()
	w.WriteInt64(2)
	w.WriteInt64(3)
	w.WriteEnd()
	w.WriteEnd()
	w.WriteInt64(99) // sentinel after the skipped value

	r := NewReader(w.Bytes())
	err := r.Skip()
	require.NoError(t, err)

	v, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, KindInt64, v.Kind)
	require.EqualValues(t, 99, v.Int64)
}

func TestUnknownTag(t *testing.T) {
	r := NewReader([]byte{0xFF})
	_, err := r.Next()
	require.ErrorIs(t, err, ErrUnknownTag)
}
