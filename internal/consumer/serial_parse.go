package consumer

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"wisefido-vitals/internal/models"
)

// SerialTimeLayout timestamp layout of the oximeter's first two tokens
const SerialTimeLayout = "02-Jan-06 15:04:05"

// ParsedLine one decoded oximeter line
type ParsedLine struct {
	Time   time.Time
	Values map[string]float64
	Status string
}

// ParseLine decodes "<date> <time> <spo2> <bpm> <perfusion> [status...]".
// Lines with fewer than five tokens are rejected. SpO2/BPM may carry one trailing
// marker character; non-numeric values are omitted rather than zeroed.
func ParseLine(line string, now time.Time) (ParsedLine, bool) {
	tokens := strings.Fields(line)
	if len(tokens) < 5 {
		return ParsedLine{}, false
	}

	p := ParsedLine{
		Time:   now,
		Values: make(map[string]float64, 3),
	}
	if ts, err := time.ParseInLocation(SerialTimeLayout, tokens[0]+" "+tokens[1], now.Location()); err == nil {
		p.Time = ts
	}

	if v, ok := parseMarked(tokens[2]); ok {
		p.Values[models.SignalSpO2] = v
	}
	if v, ok := parseMarked(tokens[3]); ok {
		p.Values[models.SignalBPM] = v
	}
	if v, err := strconv.ParseFloat(tokens[4], 64); err == nil {
		p.Values[models.SignalPerfusion] = v
	}
	if len(tokens) > 5 {
		p.Status = strings.Join(tokens[5:], " ")
	}

	return p, true
}

func parseMarked(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	last, size := utf8.DecodeLastRuneInString(tok)
	if !unicode.IsDigit(last) && last != '.' {
		tok = tok[:len(tok)-size]
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
