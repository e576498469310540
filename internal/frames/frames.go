// Package frames writes snapshots of the growing cluster.
//
// Every frame lists the plated points in insertion order. Two file formats
// are provided: an XYZ-style text file per frame and a JSON-lines stream.
package frames

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/segmentio/encoding/json"

	"github.com/signalsfoundry/platesim/model"
)

// Writer receives frames from the engine.
type Writer interface {
	WriteFrame(ctx context.Context, f model.Frame) error
}

// DirWriter writes each frame to its own text file named frame_NNNNNN.xyz:
//
//	<point count>
//	frame=<index> dims=<D> radius=<radius>
//	<D> <x> <y> [<z>]
//	...
type DirWriter struct {
	dir string
}

// NewDirWriter creates dir if needed and returns a writer into it.
func NewDirWriter(dir string) (*DirWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	return &DirWriter{dir: dir}, nil
}

// FramePath returns the file path used for frame index.
func (w *DirWriter) FramePath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("frame_%06d.xyz", index))
}

func (w *DirWriter) WriteFrame(ctx context.Context, f model.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := os.Create(w.FramePath(f.Index))
	if err != nil {
		return fmt.Errorf("create frame %d: %w", f.Index, err)
	}
	if err := EncodeXYZ(file, f); err != nil {
		file.Close()
		return fmt.Errorf("write frame %d: %w", f.Index, err)
	}
	return file.Close()
}

// EncodeXYZ writes f in the XYZ-style text layout.
func EncodeXYZ(w io.Writer, f model.Frame) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", f.Size())
	fmt.Fprintf(bw, "frame=%d dims=%d radius=%s\n", f.Index, f.Dims, formatFloat(f.Radius))
	buf := make([]byte, 0, 96)
	for _, p := range f.Points {
		buf = strconv.AppendInt(buf[:0], int64(len(p)), 10)
		for _, v := range p {
			buf = append(buf, ' ')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Record is the JSON-lines representation of a frame.
type Record struct {
	Frame  int         `json:"frame"`
	Dims   int         `json:"dims"`
	Size   int         `json:"size"`
	Radius float64     `json:"radius"`
	Points [][]float64 `json:"points"`
}

// NewRecord converts a frame into its JSON record.
func NewRecord(f model.Frame) Record {
	pts := make([][]float64, len(f.Points))
	for i, p := range f.Points {
		pts[i] = p
	}
	return Record{Frame: f.Index, Dims: f.Dims, Size: f.Size(), Radius: f.Radius, Points: pts}
}

// JSONLinesWriter appends one JSON object per frame to an io.Writer.
type JSONLinesWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesWriter wraps w.
func NewJSONLinesWriter(w io.Writer) *JSONLinesWriter {
	return &JSONLinesWriter{w: w}
}

func (j *JSONLinesWriter) WriteFrame(ctx context.Context, f model.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(NewRecord(f))
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.w.Write(b)
	return err
}

// Multi fans a frame out to every writer and joins their errors.
type Multi []Writer

func (m Multi) WriteFrame(ctx context.Context, f model.Frame) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteFrame(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
