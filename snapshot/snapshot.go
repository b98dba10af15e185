// Package snapshot provides a compact binary encoding of fitted models
// so a calling workflow can persist or transport them.
//
// A snapshot is a single self-validating byte slice:
//
//	[0:4]   magic "DSMS"
//	[4]     format version
//	[5]     model kind (detection or count)
//	[6]     payload codec
//	[7:11]  compressed payload length (uint32, little-endian)
//	[11:n-8] compressed payload
//	[n-8:n] xxhash64 checksum of everything before it
//
// Payload sections are little-endian with length-prefixed slices and
// strings. Any structural damage surfaces as errs.ErrCorruptSnapshot.
//
// The detection snapshot restores a usable model. The fitting sample's
// covariate rows are not persisted, so a decoded model evaluates its
// effective mean detection probability at the reference covariate level
// rather than aggregating over the original sample.
//
// The count snapshot is a reporting record (coefficients, covariance,
// smoothing parameters, family), not a re-fittable model: the smooth
// basis construction depends on the original segment data.
package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/distanceexamples/dsm-line-dolphins/detection"
	"github.com/distanceexamples/dsm-line-dolphins/errs"
	"github.com/distanceexamples/dsm-line-dolphins/family"
	"github.com/distanceexamples/dsm-line-dolphins/gam"
	"github.com/distanceexamples/dsm-line-dolphins/response"
)

const (
	magic   = "DSMS"
	version = 1

	kindDetection byte = 1
	kindCount     byte = 2

	headerSize   = 11
	checksumSize = 8
)

// CountRecord is the persisted summary of a fitted count model.
type CountRecord struct {
	// Family is the response family, with any profiled parameter
	// resolved into Parameter.
	Family family.Name
	// Parameter is the Tweedie power or negative-binomial dispersion;
	// zero for quasi-Poisson.
	Parameter float64
	// ResponseKind records the response definition the model was fit to.
	ResponseKind response.Kind
	// Coefficients, Covariance, Smoothing, EDF, Scale and
	// DevianceExplained mirror the fitted model's fields.
	Coefficients      []float64
	Covariance        *mat.SymDense
	Smoothing         []float64
	EDF               []float64
	Scale             float64
	DevianceExplained float64
}

// NewCountRecord extracts the persistable summary of a fitted model.
func NewCountRecord(m *gam.Model) (*CountRecord, error) {
	if m == nil || m.State() != gam.StateFitted {
		return nil, fmt.Errorf("%w: only fitted count models can be snapshotted", errs.ErrInvalidConfig)
	}

	fam := m.Family()

	return &CountRecord{
		Family:            fam.Name(),
		Parameter:         fam.Parameter(),
		ResponseKind:      m.ResponseKind(),
		Coefficients:      append([]float64(nil), m.Coefficients...),
		Covariance:        m.Covariance,
		Smoothing:         append([]float64(nil), m.Smoothing...),
		EDF:               append([]float64(nil), m.EDF...),
		Scale:             m.Scale,
		DevianceExplained: m.DevianceExplained,
	}, nil
}

// EncodeDetection serializes a fitted detection function.
func EncodeDetection(m *detection.Model, codec CodecType) ([]byte, error) {
	if m == nil || len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: only fitted detection models can be snapshotted", errs.ErrInvalidConfig)
	}

	var w writer
	w.byte1(byte(m.Key))
	w.float64(m.Truncation)
	w.uint16(uint16(len(m.Covariates)))
	for _, name := range m.Covariates {
		w.string(name)
	}
	w.floats(m.Coefficients)
	w.float64(m.LogLik)
	w.float64(m.AIC)
	writeSym(&w, m.Covariance)

	return seal(kindDetection, codec, w.buf)
}

// DecodeDetection reverses EncodeDetection.
func DecodeDetection(data []byte) (*detection.Model, error) {
	payload, err := open(data, kindDetection)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: payload}
	key, err := r.byte1()
	if err != nil {
		return nil, err
	}
	truncation, err := r.float64()
	if err != nil {
		return nil, err
	}
	ncov, err := r.uint16()
	if err != nil {
		return nil, err
	}
	covariates := make([]string, ncov)
	for i := range covariates {
		if covariates[i], err = r.string(); err != nil {
			return nil, err
		}
	}
	coefficients, err := r.floats()
	if err != nil {
		return nil, err
	}
	logLik, err := r.float64()
	if err != nil {
		return nil, err
	}
	aic, err := r.float64()
	if err != nil {
		return nil, err
	}
	covariance, err := readSym(r)
	if err != nil {
		return nil, err
	}

	model := &detection.Model{
		Key:          detection.KeyFunction(key),
		Truncation:   truncation,
		Coefficients: coefficients,
		Covariance:   covariance,
		LogLik:       logLik,
		AIC:          aic,
	}
	if ncov > 0 {
		model.Covariates = covariates
	}

	return model, nil
}

// EncodeCount serializes a count-model record.
func EncodeCount(record *CountRecord, codec CodecType) ([]byte, error) {
	if record == nil || len(record.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: count record carries no coefficients", errs.ErrInvalidConfig)
	}

	var w writer
	w.string(record.Family.String())
	w.float64(record.Parameter)
	w.byte1(byte(record.ResponseKind))
	w.floats(record.Coefficients)
	w.floats(record.Smoothing)
	w.floats(record.EDF)
	w.float64(record.Scale)
	w.float64(record.DevianceExplained)
	writeSym(&w, record.Covariance)

	return seal(kindCount, codec, w.buf)
}

// DecodeCount reverses EncodeCount.
func DecodeCount(data []byte) (*CountRecord, error) {
	payload, err := open(data, kindCount)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: payload}
	famName, err := r.string()
	if err != nil {
		return nil, err
	}
	fam := family.FromString(famName)
	if fam == family.Name(-1) {
		return nil, fmt.Errorf("%w: unknown family %q", errs.ErrCorruptSnapshot, famName)
	}
	parameter, err := r.float64()
	if err != nil {
		return nil, err
	}
	kind, err := r.byte1()
	if err != nil {
		return nil, err
	}
	coefficients, err := r.floats()
	if err != nil {
		return nil, err
	}
	smoothing, err := r.floats()
	if err != nil {
		return nil, err
	}
	edf, err := r.floats()
	if err != nil {
		return nil, err
	}
	scale, err := r.float64()
	if err != nil {
		return nil, err
	}
	devExpl, err := r.float64()
	if err != nil {
		return nil, err
	}
	covariance, err := readSym(r)
	if err != nil {
		return nil, err
	}

	return &CountRecord{
		Family:            fam,
		Parameter:         parameter,
		ResponseKind:      response.Kind(kind),
		Coefficients:      coefficients,
		Covariance:        covariance,
		Smoothing:         smoothing,
		EDF:               edf,
		Scale:             scale,
		DevianceExplained: devExpl,
	}, nil
}

// seal compresses the payload and wraps it in header and checksum.
func seal(kind byte, codecType CodecType, payload []byte) ([]byte, error) {
	codec, err := codecFor(codecType)
	if err != nil {
		return nil, fmt.Errorf("%w: codec type %d is not encodable", errs.ErrInvalidConfig, codecType)
	}
	compressed, err := codec.Compress(payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerSize+len(compressed)+checksumSize)
	out = append(out, magic...)
	out = append(out, version, kind, byte(codecType))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(compressed)))
	out = append(out, compressed...)
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(out))

	return out, nil
}

// open validates the envelope and returns the decompressed payload.
func open(data []byte, wantKind byte) ([]byte, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the minimal envelope", errs.ErrCorruptSnapshot, len(data))
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic", errs.ErrCorruptSnapshot)
	}
	if data[4] != version {
		return nil, fmt.Errorf("%w: unsupported version %d", errs.ErrCorruptSnapshot, data[4])
	}
	if data[5] != wantKind {
		return nil, fmt.Errorf("%w: snapshot holds model kind %d, want %d", errs.ErrCorruptSnapshot, data[5], wantKind)
	}

	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint64(data[len(data)-checksumSize:])
	if xxhash.Sum64(body) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", errs.ErrCorruptSnapshot)
	}

	plen := int(binary.LittleEndian.Uint32(data[7:11]))
	if headerSize+plen+checksumSize != len(data) {
		return nil, fmt.Errorf("%w: payload length %d disagrees with envelope size %d",
			errs.ErrCorruptSnapshot, plen, len(data))
	}

	codec, err := codecFor(CodecType(data[6]))
	if err != nil {
		return nil, err
	}
	payload, err := codec.Decompress(data[headerSize : headerSize+plen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorruptSnapshot, err)
	}

	return payload, nil
}

// writeSym stores a symmetric matrix as its upper triangle. A nil
// matrix is stored as dimension zero.
func writeSym(w *writer, s *mat.SymDense) {
	if s == nil {
		w.uint16(0)
		return
	}
	n, _ := s.Dims()
	w.uint16(uint16(n))
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			w.float64(s.At(i, j))
		}
	}
}

func readSym(r *reader) (*mat.SymDense, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	s := mat.NewSymDense(int(n), nil)
	for i := 0; i < int(n); i++ {
		for j := i; j < int(n); j++ {
			v, err := r.float64()
			if err != nil {
				return nil, err
			}
			s.SetSym(i, j, v)
		}
	}

	return s, nil
}
