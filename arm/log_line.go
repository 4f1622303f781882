package arm

import (
	"strconv"
	"strings"

	"github.com/soilbed/armctl/protocol"
)

// LogLine formats one line of the per-run data file:
// "index,seconds,[x,y,z],[ox,oy,oz],[fx,fy,fz,mx,my,mz]".
func (s State) LogLine(index int, seconds float64) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(index))
	b.WriteByte(',')
	b.WriteString(protocol.FormatFloat(seconds))
	b.WriteByte(',')
	b.WriteString(protocol.FormatValues(s.Position.X, s.Position.Y, s.Position.Z))
	b.WriteByte(',')
	b.WriteString(protocol.FormatValues(s.Orientation.X, s.Orientation.Y, s.Orientation.Z))
	b.WriteByte(',')
	b.WriteString(protocol.FormatValues(s.Force[:]...))
	return b.String()
}
