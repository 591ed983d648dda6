package mapdb

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NamedFeatures pairs local features with an image name.
type NamedFeatures struct {
	Name     string
	Features LocalFeatures
}

// ParseGlobalText parses a global descriptor dump with one "NAME v1 ... vD"
// line per image.
func ParseGlobalText(r io.Reader) ([]string, [][]float32, error) {
	ls := newLineScanner(r, "global.txt")

	var (
		names []string
		vecs  [][]float32
		dim   = -1
	)
	for {
		line, ok := ls.nextRecord()
		if !ok {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, nil, ls.errorf("expected name and descriptor")
		}
		vec, err := parseFloat32s(fields[1:])
		if err != nil {
			return nil, nil, ls.errorf("descriptor: %w", err)
		}
		if dim >= 0 && len(vec) != dim {
			return nil, nil, ls.errorf("descriptor dimension %d, want %d", len(vec), dim)
		}
		dim = len(vec)
		names = append(names, fields[0])
		vecs = append(vecs, vec)
	}
	if err := ls.err(); err != nil {
		return nil, nil, err
	}
	return names, vecs, nil
}

// ParseLocalText parses a local feature dump. Each image starts with a
// "NAME N" line followed by N lines of "x y d1 ... dD".
func ParseLocalText(r io.Reader) ([]NamedFeatures, error) {
	ls := newLineScanner(r, "local.txt")

	var out []NamedFeatures
	for {
		header, ok := ls.nextRecord()
		if !ok {
			break
		}
		fields := strings.Fields(header)
		if len(fields) != 2 {
			return nil, ls.errorf("expected \"NAME COUNT\"")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return nil, ls.errorf("invalid feature count %q", fields[1])
		}

		nf := NamedFeatures{Name: fields[0]}
		nf.Features.Keypoints = make([][2]float64, 0, n)
		nf.Features.Descriptors = make([][]float32, 0, n)
		for range n {
			line, ok := ls.nextRecord()
			if !ok {
				return nil, ls.errorf("%s: expected %d features, got %d", nf.Name, n, nf.Features.Len())
			}
			f := strings.Fields(line)
			if len(f) < 3 {
				return nil, ls.errorf("expected keypoint and descriptor")
			}
			xy, err := parseFloats(f[:2])
			if err != nil {
				return nil, ls.errorf("keypoint: %w", err)
			}
			d, err := parseFloat32s(f[2:])
			if err != nil {
				return nil, ls.errorf("descriptor: %w", err)
			}
			nf.Features.Keypoints = append(nf.Features.Keypoints, [2]float64{xy[0], xy[1]})
			nf.Features.Descriptors = append(nf.Features.Descriptors, d)
		}
		if err := nf.Features.Validate(); err != nil {
			return nil, ls.errorf("%s: %w", nf.Name, err)
		}
		out = append(out, nf)
	}
	if err := ls.err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteGlobalText writes descriptors in the ParseGlobalText format.
func WriteGlobalText(w io.Writer, names []string, vecs [][]float32) error {
	if len(names) != len(vecs) {
		return fmt.Errorf("mapdb: %d names but %d descriptors", len(names), len(vecs))
	}
	for i, name := range names {
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
		if err := writeFloat32s(w, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteLocalText writes features in the ParseLocalText format.
func WriteLocalText(w io.Writer, features []NamedFeatures) error {
	for _, nf := range features {
		if _, err := fmt.Fprintf(w, "%s %d\n", nf.Name, nf.Features.Len()); err != nil {
			return err
		}
		for i, kp := range nf.Features.Keypoints {
			if _, err := fmt.Fprintf(w, "%g %g", kp[0], kp[1]); err != nil {
				return err
			}
			if err := writeFloat32s(w, nf.Features.Descriptors[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFloat32s(w io.Writer, v []float32) error {
	var sb strings.Builder
	for _, x := range v {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}

func parseFloat32s(fields []string) ([]float32, error) {
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
