package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/ridelog-data/ridelog/model"
)

// SerializeCompressed encodes the measurement as Serialize does and wraps
// the result in a raw deflate stream.
func SerializeCompressed(m *model.Measurement, accelerations, rotations, directions []model.SensorValue) ([]byte, error) {
	raw, err := Serialize(m, accelerations, rotations, directions)
	if err != nil {
		return nil, err
	}
	return Deflate(raw)
}

// Deflate compresses data with the deflate algorithm.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
	}
	return buf.Bytes(), nil
}

// Inflate reverses Deflate.
func Inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return out, nil
}
