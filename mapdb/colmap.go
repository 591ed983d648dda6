package mapdb

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"
)

const maxLineSize = 64 * 1024 * 1024

// ParseError reports a malformed line in a text model file.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mapdb: %s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type lineScanner struct {
	s    *bufio.Scanner
	file string
	line int
}

func newLineScanner(r io.Reader, file string) *lineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &lineScanner{s: s, file: file}
}

func (ls *lineScanner) next() (string, bool) {
	if !ls.s.Scan() {
		return "", false
	}
	ls.line++
	return strings.TrimSpace(ls.s.Text()), true
}

// nextRecord skips blank and comment lines.
func (ls *lineScanner) nextRecord() (string, bool) {
	for {
		line, ok := ls.next()
		if !ok {
			return "", false
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
}

func (ls *lineScanner) errorf(format string, args ...any) error {
	return &ParseError{File: ls.file, Line: ls.line, Err: fmt.Errorf(format, args...)}
}

func (ls *lineScanner) err() error {
	if err := ls.s.Err(); err != nil {
		return &ParseError{File: ls.file, Line: ls.line, Err: err}
	}
	return nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ParseImagesText parses a COLMAP images.txt file. Each image takes two
// lines: "IMAGE_ID QW QX QY QZ TX TY TZ CAMERA_ID NAME" followed by
// "X Y POINT3D_ID ..." (possibly empty).
func ParseImagesText(r io.Reader) ([]Image, error) {
	ls := newLineScanner(r, "images.txt")

	var images []Image
	for {
		header, ok := ls.nextRecord()
		if !ok {
			break
		}

		fields := strings.Fields(header)
		if len(fields) < 10 {
			return nil, ls.errorf("expected 10 fields, got %d", len(fields))
		}

		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, ls.errorf("image id: %w", err)
		}
		pose, err := parseFloats(fields[1:8])
		if err != nil {
			return nil, ls.errorf("pose: %w", err)
		}

		img := Image{
			ID:          ImageID(id),
			Name:        strings.Join(fields[9:], " "),
			Rotation:    quat.Number{Real: pose[0], Imag: pose[1], Jmag: pose[2], Kmag: pose[3]},
			Translation: [3]float64{pose[4], pose[5], pose[6]},
			HasPose:     true,
		}

		// The observation line follows immediately and may be blank.
		obs, _ := ls.next()
		obsFields := strings.Fields(obs)
		if len(obsFields)%3 != 0 {
			return nil, ls.errorf("observation fields not a multiple of 3: %d", len(obsFields))
		}
		n := len(obsFields) / 3
		img.Keypoints = make([][2]float64, n)
		img.PointIDs = make([]PointID, n)
		for i := range n {
			xy, err := parseFloats(obsFields[3*i : 3*i+2])
			if err != nil {
				return nil, ls.errorf("keypoint %d: %w", i, err)
			}
			pid, err := strconv.ParseInt(obsFields[3*i+2], 10, 64)
			if err != nil {
				return nil, ls.errorf("point id %d: %w", i, err)
			}
			img.Keypoints[i] = [2]float64{xy[0], xy[1]}
			img.PointIDs[i] = PointID(pid)
		}

		images = append(images, img)
	}

	if err := ls.err(); err != nil {
		return nil, err
	}
	return images, nil
}

// ParsePointsText parses a COLMAP points3D.txt file:
// "POINT3D_ID X Y Z R G B ERROR (IMAGE_ID POINT2D_IDX)...".
// Repeated image ids in a track are collapsed.
func ParsePointsText(r io.Reader) ([]Point3D, error) {
	ls := newLineScanner(r, "points3D.txt")

	var points []Point3D
	for {
		line, ok := ls.nextRecord()
		if !ok {
			break
		}

		fields := strings.Fields(line)
		if len(fields) < 8 || (len(fields)-8)%2 != 0 {
			return nil, ls.errorf("malformed point record with %d fields", len(fields))
		}

		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, ls.errorf("point id: %w", err)
		}
		xyz, err := parseFloats(fields[1:4])
		if err != nil {
			return nil, ls.errorf("xyz: %w", err)
		}

		p := Point3D{ID: PointID(id), XYZ: [3]float64{xyz[0], xyz[1], xyz[2]}}
		seen := make(map[ImageID]struct{})
		for i := 8; i < len(fields); i += 2 {
			iid, err := strconv.ParseInt(fields[i], 10, 64)
			if err != nil {
				return nil, ls.errorf("track image id: %w", err)
			}
			if _, ok := seen[ImageID(iid)]; ok {
				continue
			}
			seen[ImageID(iid)] = struct{}{}
			p.ImageIDs = append(p.ImageIDs, ImageID(iid))
		}

		points = append(points, p)
	}

	if err := ls.err(); err != nil {
		return nil, err
	}
	return points, nil
}

// ParseIntrinsics parses lines of "name MODEL w h params...". Supported
// models are SIMPLE_RADIAL (f cx cy r), SIMPLE_PINHOLE (f cx cy) and
// PINHOLE (fx fy cx cy).
func ParseIntrinsics(r io.Reader) (map[string]Intrinsics, error) {
	ls := newLineScanner(r, "intrinsics.txt")

	out := make(map[string]Intrinsics)
	for {
		line, ok := ls.nextRecord()
		if !ok {
			break
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, ls.errorf("expected name, model, width and height")
		}

		name, model := fields[0], fields[1]
		w, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, ls.errorf("width: %w", err)
		}
		h, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, ls.errorf("height: %w", err)
		}
		params, err := parseFloats(fields[4:])
		if err != nil {
			return nil, ls.errorf("params: %w", err)
		}

		want := map[string]int{"SIMPLE_RADIAL": 4, "SIMPLE_PINHOLE": 3, "PINHOLE": 4}
		n, known := want[model]
		if !known {
			return nil, ls.errorf("unsupported camera model %q", model)
		}
		if len(params) != n {
			return nil, ls.errorf("%s expects %d params, got %d", model, n, len(params))
		}

		var in Intrinsics
		switch model {
		case "SIMPLE_RADIAL":
			in = NewSimpleRadial(w, h, params[0], params[1], params[2], params[3])
		case "SIMPLE_PINHOLE":
			in = NewSimpleRadial(w, h, params[0], params[1], params[2], 0)
		case "PINHOLE":
			in = Intrinsics{
				K:      [3][3]float64{{params[0], 0, params[2]}, {0, params[1], params[3]}, {0, 0, 1}},
				Width:  w,
				Height: h,
			}
		}
		out[name] = in
	}

	if err := ls.err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteIntrinsics writes intrinsics in the SIMPLE_RADIAL line format, sorted
// by name. fx is written as the focal length.
func WriteIntrinsics(w io.Writer, intrinsics map[string]Intrinsics) error {
	for _, name := range sortedKeys(intrinsics) {
		in := intrinsics[name]
		if _, err := fmt.Fprintf(w, "%s SIMPLE_RADIAL %d %d %g %g %g %g\n",
			name, in.Width, in.Height, in.K[0][0], in.K[0][2], in.K[1][2], in.RadialDistortion); err != nil {
			return err
		}
	}
	return nil
}
