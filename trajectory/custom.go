package trajectory

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// CustomExt is the extension of custom trajectory files.
const CustomExt = ".traj"

// CustomPrefix is prepended to the name of every custom trajectory.
const CustomPrefix = "custom/"

// DefaultCustomHeight is the z given to every waypoint of a custom trajectory.
const DefaultCustomHeight = 125.0

// CustomLoader discovers custom trajectory files in a directory.
type CustomLoader struct {
	Dir           string
	DefaultHeight float64
}

// NewCustomLoader returns a loader for dir using DefaultCustomHeight.
func NewCustomLoader(dir string) CustomLoader {
	return CustomLoader{Dir: dir, DefaultHeight: DefaultCustomHeight}
}

// Register adds a generator named "custom/<stem>" to lib for every file in the directory and
// returns the names added. A missing directory registers nothing.
func (c CustomLoader) Register(lib *Library) ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != CustomExt {
			continue
		}
		path := filepath.Join(c.Dir, entry.Name())
		name := CustomPrefix + strings.ToLower(strings.TrimSuffix(entry.Name(), CustomExt))
		lib.Register(name, func() ([]Waypoint, error) {
			return c.Load(path)
		})
		names = append(names, name)
	}
	return names, nil
}

// Load reads one custom trajectory file.
func (c CustomLoader) Load(path string) (wps []Waypoint, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	// Only the last line of the file holds the trajectory.
	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		last = scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return ParseCustom(last, c.DefaultHeight)
}

// ParseCustom parses "(x y),(x y),..." into waypoints at height z. Empty entries are skipped.
func ParseCustom(line string, z float64) ([]Waypoint, error) {
	var wps []Waypoint
	for i, coord := range strings.Split(line, ",") {
		coord = strings.TrimSpace(strings.NewReplacer("(", "", ")", "").Replace(coord))
		if coord == "" {
			continue
		}
		fields := strings.Fields(coord)
		if len(fields) != 2 {
			return nil, errors.Errorf("coordinate %d: expected \"x y\", got %q", i, coord)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinate %d", i)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "coordinate %d", i)
		}
		wps = append(wps, Waypoint{X: x, Y: y, Z: z})
	}
	return wps, nil
}
