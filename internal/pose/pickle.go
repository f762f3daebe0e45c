package pose

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/nlpodyssey/gopickle/pickle"
)

// decodePickle reads a Python pickle holding a mapping of numpy arrays, as
// written by the motion model with pickle.dump.
func decodePickle(r io.Reader) (poses, trans [][]float64, err error) {
	u := pickle.NewUnpickler(r)
	u.FindClass = findNumpyClass

	obj, err := u.Load()
	if err != nil {
		return nil, nil, err
	}

	get, ok := dictGetter(obj)
	if !ok {
		return nil, nil, fmt.Errorf("pickle root is %T, want dict", obj)
	}

	p, ok := lookup(get, poseKeys...)
	if !ok {
		return nil, nil, fmt.Errorf("no poses key (tried %v)", poseKeys)
	}
	if poses, err = pickledMatrix(p); err != nil {
		return nil, nil, fmt.Errorf("poses: %w", err)
	}
	if t, ok := lookup(get, transKeys...); ok {
		if trans, err = pickledMatrix(t); err != nil {
			return nil, nil, fmt.Errorf("translations: %w", err)
		}
	}
	return poses, trans, nil
}

func findNumpyClass(module, name string) (interface{}, error) {
	switch module + "." + name {
	case "numpy.core.multiarray._reconstruct", "numpy._core.multiarray._reconstruct":
		return reconstructFunc{}, nil
	case "numpy.core.numeric._frombuffer", "numpy._core.numeric._frombuffer":
		return frombufferFunc{}, nil
	case "numpy.ndarray":
		return ndarrayClass{}, nil
	case "numpy.dtype":
		return dtypeClass{}, nil
	case "_codecs.encode":
		return encodeFunc{}, nil
	}
	return &genericObject{module: module, name: name}, nil
}

// dtype is the subset of numpy.dtype needed to decode numeric buffers.
type dtype struct {
	kind      byte
	size      int
	bigEndian bool
}

type dtypeClass struct{}

// Call handles numpy.dtype('f8', False, True).
func (dtypeClass) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("numpy.dtype: no arguments")
	}
	code, ok := args[0].(string)
	if !ok || len(code) < 2 {
		return nil, fmt.Errorf("numpy.dtype: unsupported descriptor %v", args[0])
	}
	d := &dtype{kind: code[0]}
	if _, err := fmt.Sscanf(code[1:], "%d", &d.size); err != nil {
		return nil, fmt.Errorf("numpy.dtype %q: %w", code, err)
	}
	return d, nil
}

// PySetState applies (version, byteorder, ...).
func (d *dtype) PySetState(state interface{}) error {
	items, ok := asSlice(state)
	if !ok || len(items) < 2 {
		return fmt.Errorf("numpy.dtype: unexpected state %T", state)
	}
	if order, ok := items[1].(string); ok {
		d.bigEndian = order == ">"
	}
	return nil
}

func (d *dtype) decode(b []byte) float64 {
	var order binary.ByteOrder = binary.LittleEndian
	if d.bigEndian {
		order = binary.BigEndian
	}
	switch {
	case d.kind == 'f' && d.size == 4:
		return float64(math.Float32frombits(order.Uint32(b)))
	case d.kind == 'f' && d.size == 8:
		return math.Float64frombits(order.Uint64(b))
	case d.kind == 'i' && d.size == 4:
		return float64(int32(order.Uint32(b)))
	case d.kind == 'i' && d.size == 8:
		return float64(int64(order.Uint64(b)))
	}
	return math.NaN()
}

func (d *dtype) supported() bool {
	return (d.kind == 'f' || d.kind == 'i') && (d.size == 4 || d.size == 8)
}

type ndarray struct {
	shape   []int
	dtype   *dtype
	fortran bool
	data    []byte
}

type ndarrayClass struct{}

type reconstructFunc struct{}

// Call handles numpy.core.multiarray._reconstruct(ndarray, (0,), b'b').
// The array is filled in by the following BUILD.
func (reconstructFunc) Call(args ...interface{}) (interface{}, error) {
	return &ndarray{}, nil
}

// PySetState applies (version, shape, dtype, is_fortran, data). Version
// is absent in very old pickles.
func (a *ndarray) PySetState(state interface{}) error {
	items, ok := asSlice(state)
	if !ok {
		return fmt.Errorf("numpy.ndarray: unexpected state %T", state)
	}
	if len(items) == 5 {
		items = items[1:]
	}
	if len(items) != 4 {
		return fmt.Errorf("numpy.ndarray: state has %d items", len(items))
	}

	shape, err := asShape(items[0])
	if err != nil {
		return err
	}
	dt, ok := items[1].(*dtype)
	if !ok {
		return fmt.Errorf("numpy.ndarray: dtype is %T", items[1])
	}
	fortran, _ := items[2].(bool)
	data, ok := asBytes(items[3])
	if !ok {
		return fmt.Errorf("numpy.ndarray: data is %T", items[3])
	}

	a.shape, a.dtype, a.fortran, a.data = shape, dt, fortran, data
	return nil
}

type frombufferFunc struct{}

// Call handles numpy.core.numeric._frombuffer(buf, dtype, shape, order),
// used by protocol 5 pickles.
func (frombufferFunc) Call(args ...interface{}) (interface{}, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("_frombuffer: %d arguments", len(args))
	}
	data, ok := asBytes(args[0])
	if !ok {
		return nil, fmt.Errorf("_frombuffer: buffer is %T", args[0])
	}
	dt, ok := args[1].(*dtype)
	if !ok {
		return nil, fmt.Errorf("_frombuffer: dtype is %T", args[1])
	}
	shape, err := asShape(args[2])
	if err != nil {
		return nil, err
	}
	order, _ := args[3].(string)
	return &ndarray{shape: shape, dtype: dt, fortran: order == "F", data: data}, nil
}

type encodeFunc struct{}

// Call handles _codecs.encode(str, 'latin1') used for bytes in protocol 2.
func (encodeFunc) Call(args ...interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("_codecs.encode: no arguments")
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("_codecs.encode: %T", args[0])
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return nil, fmt.Errorf("_codecs.encode: rune %U outside latin1", r)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// genericObject stands in for classes the decoder does not care about so
// that unrelated entries of the mapping do not fail the load.
type genericObject struct {
	module, name string
}

func (g *genericObject) Call(args ...interface{}) (interface{}, error) {
	return &genericObject{module: g.module, name: g.name}, nil
}

// PyNew handles NEWOBJ for classes created with cls.__new__.
func (g *genericObject) PyNew(args ...interface{}) (interface{}, error) {
	return &genericObject{module: g.module, name: g.name}, nil
}

func (g *genericObject) PySetState(state interface{}) error { return nil }

// matrix returns the array as T rows with trailing dimensions flattened.
func (a *ndarray) matrix() ([][]float64, error) {
	if a.dtype == nil || len(a.shape) == 0 {
		return nil, fmt.Errorf("numpy array was never initialised")
	}
	if !a.dtype.supported() {
		return nil, fmt.Errorf("unsupported dtype %c%d", a.dtype.kind, a.dtype.size)
	}

	rows, cols := a.shape[0], 1
	for _, d := range a.shape[1:] {
		cols *= d
	}
	if len(a.data) != rows*cols*a.dtype.size {
		return nil, fmt.Errorf("buffer has %d bytes, shape %v needs %d", len(a.data), a.shape, rows*cols*a.dtype.size)
	}
	if a.fortran && len(a.shape) > 2 {
		return nil, fmt.Errorf("fortran-ordered arrays with %d dimensions are not supported", len(a.shape))
	}

	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			idx := i*cols + j
			if a.fortran {
				idx = j*rows + i
			}
			off := idx * a.dtype.size
			out[i][j] = a.dtype.decode(a.data[off : off+a.dtype.size])
		}
	}
	return out, nil
}

func pickledMatrix(v interface{}) ([][]float64, error) {
	if arr, ok := v.(*ndarray); ok {
		return arr.matrix()
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("expected array or list, got %T", v)
	}
	rows := make([]any, len(items))
	for i, it := range items {
		if arr, ok := it.(*ndarray); ok {
			m, err := arr.matrix()
			if err != nil {
				return nil, err
			}
			flat := make([]any, 0, len(m))
			for _, r := range m {
				for _, x := range r {
					flat = append(flat, x)
				}
			}
			rows[i] = flat
			continue
		}
		rows[i] = plain(it)
	}
	return toMatrix(rows)
}

// plain converts pickle containers to []any so toMatrix can walk them.
func plain(v interface{}) interface{} {
	items, ok := asSlice(v)
	if !ok {
		return v
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = plain(it)
	}
	return out
}

// dictGetter adapts the unpickled mapping type to a string-keyed lookup.
func dictGetter(v interface{}) (func(string) (any, bool), bool) {
	switch d := v.(type) {
	case interface {
		Get(key interface{}) (interface{}, bool)
	}:
		return func(k string) (any, bool) { return d.Get(k) }, true
	case map[interface{}]interface{}:
		return func(k string) (any, bool) {
			x, ok := d[k]
			return x, ok
		}, true
	}
	return nil, false
}

// asSlice unwraps tuples and lists, which the unpickler represents as
// (pointers to) named []interface{} types.
func asSlice(v interface{}) ([]interface{}, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Interface {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func asBytes(v interface{}) ([]byte, bool) {
	if s, ok := v.(string); ok {
		return []byte(s), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	return rv.Bytes(), true
}

func asShape(v interface{}) ([]int, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("numpy shape is %T", v)
	}
	shape := make([]int, len(items))
	for i, it := range items {
		switch n := it.(type) {
		case int:
			shape[i] = n
		case int64:
			shape[i] = int(n)
		default:
			return nil, fmt.Errorf("numpy shape item %v (%T)", it, it)
		}
	}
	return shape, nil
}
