package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
)

// FileExt is appended to the prefix given to SaveToFile.
const FileExt = ".pcd"

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// SaveToFile writes the set as an ascii PCD file named prefix + ".pcd" and returns the path.
func (ps *PointSet) SaveToFile(prefix string) (path string, err error) {
	path = prefix + FileExt
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err := ToPCD(ps, w, PCDAscii); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return path, nil
}

// ReadFromFile reads a PCD file written by SaveToFile.
func ReadFromFile(path string) (ps *PointSet, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPCD(f)
}

// ToPCD writes the set in PCD v0.7 format. The capture time is kept in a leading comment.
func ToPCD(ps *PointSet, out io.Writer, outputType PCDType) error {
	var dataType string
	switch outputType {
	case PCDAscii:
		dataType = "ascii"
	case PCDBinary:
		dataType = "binary"
	default:
		return errors.Errorf("unsupported pcd data type %d", outputType)
	}

	_, err := fmt.Fprintf(out, "# captured %s\n"+
		"VERSION .7\n"+
		"FIELDS x y z\n"+
		"SIZE 4 4 4\n"+
		"TYPE F F F\n"+
		"COUNT 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		ps.Captured.UTC().Format(time.RFC3339Nano),
		ps.Size(),
		ps.Size(),
		dataType)
	if err != nil {
		return err
	}

	buf := make([]byte, 12)
	for _, p := range ps.Points {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			_, err = out.Write(buf)
		case PCDAscii:
			_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type pcdHeader struct {
	captured time.Time
	width    uint64
	height   uint64
	points   uint64
	data     PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if value != "x y z" {
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a PCD stream containing x y z float fields.
func ReadPCD(inRaw io.Reader) (*PointSet, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line = strings.TrimSpace(line)
		if stamp, found := strings.CutPrefix(line, pcdCommentChar+" captured "); found {
			if header.captured, err = time.Parse(time.RFC3339Nano, stamp); err != nil {
				return nil, errors.Wrap(err, "invalid capture time")
			}
			continue
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}

	ps := NewWithPrealloc(header.captured, int(header.points))
	for i := 0; i < int(header.points); i++ {
		var point [3]float64
		switch header.data {
		case PCDAscii:
			line, err := in.ReadString('\n')
			if err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != 3 {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			for j, token := range tokens {
				if point[j], err = strconv.ParseFloat(token, 64); err != nil {
					return nil, errors.Wrapf(err, "invalid point %d field %s", i, token)
				}
			}
		case PCDBinary:
			buf := make([]byte, 12)
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "reading point %d", i)
			}
			for j := range point {
				point[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
			}
		}
		ps.Add(r3.Vector{X: point[0], Y: point[1], Z: point[2]})
	}
	return ps, nil
}
