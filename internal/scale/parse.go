package scale

import (
	"math"
	"strconv"
	"strings"
)

// maxLineBytes bounds a line without a terminator; longer input is discarded.
const maxLineBytes = 256

// ParseWeight decodes one scale line. The first character is a status or
// sign marker and is skipped; the rest is a decimal weight rounded to two
// places.
func ParseWeight(line string) (float64, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 {
		return 0, false
	}
	payload := strings.TrimSpace(trimmed[1:])
	if payload == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(payload, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return math.Round(value*100) / 100, true
}

// lineSplitter accumulates raw bytes and yields '\r' terminated lines.
type lineSplitter struct {
	buf      []byte
	overflow bool
}

// feed appends data and returns every completed line.
func (s *lineSplitter) feed(data []byte) []string {
	var lines []string
	for _, b := range data {
		if b == '\r' {
			if !s.overflow {
				lines = append(lines, string(s.buf))
			}
			s.buf = s.buf[:0]
			s.overflow = false
			continue
		}
		if s.overflow {
			continue
		}
		if len(s.buf) >= maxLineBytes {
			s.buf = s.buf[:0]
			s.overflow = true
			continue
		}
		s.buf = append(s.buf, b)
	}
	return lines
}
