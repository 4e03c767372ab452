package grpcclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/example/leafscan/internal/inference"
)

const maxRank = 8

// Layout codes on the wire. Zero leaves the layout unspecified.
var layoutCodes = map[inference.Layout]uint32{
	inference.LayoutNHWC: 1,
	inference.LayoutNCHW: 2,
}

// EncodeTensor writes rank, layout code, dims and data little-endian.
func EncodeTensor(t inference.Tensor) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t.Shape) > maxRank {
		return nil, fmt.Errorf("tensor rank %d exceeds %d", len(t.Shape), maxRank)
	}

	code, ok := layoutCodes[t.Layout]
	if !ok && t.Layout != "" {
		return nil, fmt.Errorf("unknown tensor layout %q", t.Layout)
	}

	var buf bytes.Buffer
	buf.Grow(8 + 8*len(t.Shape) + 4*len(t.Data))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(t.Shape)))
	_ = binary.Write(&buf, binary.LittleEndian, code)
	_ = binary.Write(&buf, binary.LittleEndian, t.Shape)
	_ = binary.Write(&buf, binary.LittleEndian, t.Data)
	return buf.Bytes(), nil
}

// DecodeTensor reverses EncodeTensor.
func DecodeTensor(payload []byte) (inference.Tensor, error) {
	r := bytes.NewReader(payload)

	var rank uint32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return inference.Tensor{}, fmt.Errorf("read rank: %w", err)
	}
	if rank == 0 || rank > maxRank {
		return inference.Tensor{}, fmt.Errorf("invalid tensor rank %d", rank)
	}
	var code uint32
	if err := binary.Read(r, binary.LittleEndian, &code); err != nil {
		return inference.Tensor{}, fmt.Errorf("read layout: %w", err)
	}
	t := inference.Tensor{}
	if code != 0 {
		for layout, c := range layoutCodes {
			if c == code {
				t.Layout = layout
			}
		}
		if t.Layout == "" {
			return inference.Tensor{}, fmt.Errorf("unknown layout code %d", code)
		}
	}

	shape := make([]int64, rank)
	if err := binary.Read(r, binary.LittleEndian, shape); err != nil {
		return inference.Tensor{}, fmt.Errorf("read shape: %w", err)
	}

	t.Shape = shape
	n := t.Elements()
	if n <= 0 || int64(r.Len()) != 4*n {
		return inference.Tensor{}, fmt.Errorf("payload holds %d bytes, shape %v needs %d", r.Len(), shape, 4*n)
	}
	t.Data = make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, t.Data); err != nil {
		return inference.Tensor{}, fmt.Errorf("read data: %w", err)
	}
	return t, nil
}

// EncodeScores writes float32 scores little-endian.
func EncodeScores(scores []float32) []byte {
	out := make([]byte, 4*len(scores))
	for i, s := range scores {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeScores reverses EncodeScores.
func DecodeScores(payload []byte) ([]float32, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty score payload")
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("score payload length %d is not a multiple of 4", len(payload))
	}
	out := make([]float32, len(payload)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return out, nil
}
