package snapshot

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/distanceexamples/dsm-line-dolphins/errs"
)

// writer accumulates little-endian payload sections.
type writer struct {
	buf []byte
}

func (w *writer) byte1(v byte) {
	w.buf = append(w.buf, v)
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) float64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *writer) floats(values []float64) {
	w.uint16(uint16(len(values)))
	for _, v := range values {
		w.float64(v)
	}
}

func (w *writer) string(s string) {
	w.uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// reader consumes little-endian payload sections, reporting
// errs.ErrCorruptSnapshot on any truncation.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: payload truncated at offset %d", errs.ErrCorruptSnapshot, r.pos)
	}

	return nil
}

func (r *reader) byte1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++

	return v, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2

	return v, nil
}

func (r *reader) float64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8

	return v, nil
}

func (r *reader) floats() ([]float64, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	values := make([]float64, n)
	for i := range values {
		if values[i], err = r.float64(); err != nil {
			return nil, err
		}
	}

	return values, nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)

	return s, nil
}
