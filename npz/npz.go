// Package npz reads and writes numpy .npz archives of float64 arrays on top
// of github.com/sbinet/npyio.
//
// Arrays keep their C-order shape: one-dimensional data is stored as a
// slice, matrices through gonum, and higher ranks as nested Go arrays so
// numpy sees the same shape on load.
package npz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"unsafe"

	npyz "github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// ErrUnsupported is returned for arrays this package cannot decode.
var ErrUnsupported = errors.New("unsupported npy array")

// Writer adds arrays to an npz archive.
type Writer struct {
	w *npyz.Writer
}

// Create truncates or creates path and returns a Writer for it.
func Create(path string) (*Writer, error) {
	w, err := npyz.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &Writer{w: w}, nil
}

// WriteFloat64 stores data under name with the given C-order shape.
func (w *Writer) WriteFloat64(name string, shape []int, data []float64) error {
	if n := shapeSize(shape); n != len(data) {
		return fmt.Errorf("%s: shape %v holds %d values, got %d", name, shape, n, len(data))
	}

	var v any
	switch {
	case len(shape) == 1:
		v = data
	case len(shape) == 2 && shape[0] > 0 && shape[1] > 0:
		v = mat.NewDense(shape[0], shape[1], data)
	default:
		v = nestedArray(shape, data)
	}

	if err := w.w.Write(name, v); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Close finishes the archive.
func (w *Writer) Close() error {
	return w.w.Close()
}

// WriteFile creates the parent directory of path, lets fn fill an archive
// at path+".partial" and renames it to path once it is complete. On error
// the partial file is removed and an existing file at path is untouched.
func WriteFile(path string, fn func(w *Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := path + ".partial"
	w, err := Create(tmp)
	if err != nil {
		return err
	}
	err = fn(w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// nestedArray copies data into a value of type [d0][d1]...float64.
func nestedArray(shape []int, data []float64) any {
	typ := reflect.TypeFor[float64]()
	for i := len(shape) - 1; i >= 0; i-- {
		typ = reflect.ArrayOf(shape[i], typ)
	}
	arr := reflect.New(typ)
	if len(data) > 0 {
		copy(unsafe.Slice((*float64)(arr.UnsafePointer()), len(data)), data)
	}
	return arr.Elem().Interface()
}

func shapeSize(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Reader reads arrays from an npz archive.
type Reader struct {
	r *npyz.Reader
	// keys maps array names to archive keys.
	keys map[string]string
}

// Open opens an npz archive.
func Open(path string) (*Reader, error) {
	r, err := npyz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	keys := make(map[string]string)
	for _, k := range r.Keys() {
		keys[strings.TrimSuffix(k, ".npy")] = k
	}
	return &Reader{r: r, keys: keys}, nil
}

// Has reports whether the archive holds an array called name.
func (r *Reader) Has(name string) bool {
	_, ok := r.keys[name]
	return ok
}

// ReadFloat64 decodes the named array. float32 arrays are widened.
func (r *Reader) ReadFloat64(name string) ([]int, []float64, error) {
	key, ok := r.keys[name]
	if !ok {
		return nil, nil, fmt.Errorf("array %q not found", name)
	}

	hdr := r.r.Header(key)
	if hdr == nil {
		return nil, nil, fmt.Errorf("array %q has no header", name)
	}
	shape := slices.Clone(hdr.Descr.Shape)
	if hdr.Descr.Fortran && len(shape) > 1 {
		return nil, nil, fmt.Errorf("%w: %s is Fortran ordered", ErrUnsupported, name)
	}

	switch hdr.Descr.Type {
	case "<f8", "f8", "float64":
		var data []float64
		if err := r.r.Read(key, &data); err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return shape, data, nil
	case "<f4", "f4", "float32":
		var narrow []float32
		if err := r.r.Read(key, &narrow); err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		data := make([]float64, len(narrow))
		for i, v := range narrow {
			data[i] = float64(v)
		}
		return shape, data, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s has dtype %s", ErrUnsupported, name, hdr.Descr.Type)
	}
}

// Close releases the archive.
func (r *Reader) Close() error {
	return r.r.Close()
}
