// Package checkpoint serialises aggregate snapshots for restart.
//
// The encoding is a protobuf wire-format message written with protowire, so
// it stays readable by any protobuf decoder given the field table below:
//
//	1  version    varint
//	2  dims       varint
//	3  radius     fixed64 (double)
//	4  coords     bytes (packed doubles, point-major)
//	5  count      varint
//	6  run_id     bytes
//	7  rng_state  bytes
//	8  launched   varint
//	9  sim_time   fixed64 (double)
package checkpoint

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/signalsfoundry/platesim/model"
)

// Version is the current encoding version.
const Version = 1

const (
	fieldVersion  protowire.Number = 1
	fieldDims     protowire.Number = 2
	fieldRadius   protowire.Number = 3
	fieldCoords   protowire.Number = 4
	fieldCount    protowire.Number = 5
	fieldRunID    protowire.Number = 6
	fieldRNGState protowire.Number = 7
	fieldLaunched protowire.Number = 8
	fieldSimTime  protowire.Number = 9
)

// Encode serialises cp.
func Encode(cp model.Checkpoint) ([]byte, error) {
	for i, p := range cp.Points {
		if len(p) != cp.Dims {
			return nil, fmt.Errorf("point %d has %d coordinates, want %d", i, len(p), cp.Dims)
		}
	}

	b := make([]byte, 0, 64+len(cp.Points)*cp.Dims*8)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, Version)
	b = protowire.AppendTag(b, fieldDims, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cp.Dims))
	b = protowire.AppendTag(b, fieldRadius, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(cp.Radius))

	coords := make([]byte, 0, len(cp.Points)*cp.Dims*8)
	for _, p := range cp.Points {
		for _, v := range p {
			coords = protowire.AppendFixed64(coords, math.Float64bits(v))
		}
	}
	b = protowire.AppendTag(b, fieldCoords, protowire.BytesType)
	b = protowire.AppendBytes(b, coords)
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(cp.Points)))

	if cp.RunID != "" {
		b = protowire.AppendTag(b, fieldRunID, protowire.BytesType)
		b = protowire.AppendString(b, cp.RunID)
	}
	if len(cp.RNGState) > 0 {
		b = protowire.AppendTag(b, fieldRNGState, protowire.BytesType)
		b = protowire.AppendBytes(b, cp.RNGState)
	}
	b = protowire.AppendTag(b, fieldLaunched, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(cp.Launched))
	b = protowire.AppendTag(b, fieldSimTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(cp.SimTime))
	return b, nil
}

// Decode parses a checkpoint and verifies that its points are finite, agree
// with the recorded count, and imply the recorded radius. Any failure is an
// InvariantViolation.
func Decode(b []byte) (model.Checkpoint, error) {
	var (
		cp      model.Checkpoint
		coords  []byte
		count   uint64
		version uint64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Checkpoint{}, corrupt("tag", protowire.ParseError(n))
		}
		b = b[n:]

		var m int
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, m = protowire.ConsumeVarint(b)
		case num == fieldDims && typ == protowire.VarintType:
			var v uint64
			v, m = protowire.ConsumeVarint(b)
			cp.Dims = int(v)
		case num == fieldRadius && typ == protowire.Fixed64Type:
			var v uint64
			v, m = protowire.ConsumeFixed64(b)
			cp.Radius = math.Float64frombits(v)
		case num == fieldCoords && typ == protowire.BytesType:
			coords, m = protowire.ConsumeBytes(b)
		case num == fieldCount && typ == protowire.VarintType:
			count, m = protowire.ConsumeVarint(b)
		case num == fieldRunID && typ == protowire.BytesType:
			cp.RunID, m = protowire.ConsumeString(b)
		case num == fieldRNGState && typ == protowire.BytesType:
			var v []byte
			v, m = protowire.ConsumeBytes(b)
			cp.RNGState = append([]byte(nil), v...)
		case num == fieldLaunched && typ == protowire.VarintType:
			var v uint64
			v, m = protowire.ConsumeVarint(b)
			cp.Launched = int64(v)
		case num == fieldSimTime && typ == protowire.Fixed64Type:
			var v uint64
			v, m = protowire.ConsumeFixed64(b)
			cp.SimTime = math.Float64frombits(v)
		default:
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return model.Checkpoint{}, corrupt(fmt.Sprintf("field %d", num), protowire.ParseError(m))
		}
		b = b[m:]
	}

	if version != Version {
		return model.Checkpoint{}, &model.InvariantViolation{Name: "checkpoint version", Value: fmt.Sprint(version), Reason: "unsupported"}
	}
	if cp.Dims != 2 && cp.Dims != 3 {
		return model.Checkpoint{}, &model.InvariantViolation{Name: "checkpoint dims", Value: fmt.Sprint(cp.Dims), Reason: "must be 2 or 3"}
	}
	if count > uint64(len(coords)) || uint64(len(coords)) != count*uint64(cp.Dims)*8 {
		return model.Checkpoint{}, &model.InvariantViolation{
			Name:   "checkpoint coords",
			Value:  fmt.Sprint(len(coords)),
			Reason: fmt.Sprintf("want %d points of %d doubles", count, cp.Dims),
		}
	}

	cp.Points = make([]model.Position, count)
	var radius float64
	for i := range cp.Points {
		p := make(model.Position, cp.Dims)
		for j := range p {
			v, _ := protowire.ConsumeFixed64(coords)
			p[j] = math.Float64frombits(v)
			coords = coords[8:]
		}
		if err := model.CheckFinite(fmt.Sprintf("checkpoint point %d", i), p); err != nil {
			return model.Checkpoint{}, err
		}
		radius = math.Max(radius, p.Norm())
		cp.Points[i] = p
	}
	if radius != cp.Radius {
		return model.Checkpoint{}, &model.InvariantViolation{
			Name:   "checkpoint radius",
			Value:  fmt.Sprint(cp.Radius),
			Reason: fmt.Sprintf("points imply %v", radius),
		}
	}
	return cp, nil
}

func corrupt(what string, err error) error {
	return &model.InvariantViolation{Name: "checkpoint", Value: what, Reason: err.Error()}
}
