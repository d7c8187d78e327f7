package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/quad_controller/internal/input"
)

// SentenceType is the proprietary NMEA-style sentence carrying telemetry on
// serial links:
//
//	$PQTEL,seq,roll,pitch,rollRate,pitchRate,yawRate,throttle,m0,m1,m2,m3,arm,mode,status*CS
const SentenceType = "PQTEL"

// QTEL is a parsed telemetry sentence.
type QTEL struct {
	nmea.BaseSentence
	Seq       int64
	Roll      float64
	Pitch     float64
	RollRate  float64
	PitchRate float64
	YawRate   float64
	Throttle  float64
	Motors    [4]float64
	Arm       input.ArmState
	Mode      input.FlightMode
	Status    Status
}

func f2(v float64) string { return strconv.FormatFloat(finite(v), 'f', 2, 64) }
func f3(v float64) string { return strconv.FormatFloat(finite(v), 'f', 3, 64) }

// EncodeSentence renders a record as a checksummed $PQTEL line (no CRLF).
func EncodeSentence(r Record) string {
	fields := []string{
		SentenceType,
		strconv.FormatUint(r.Seq, 10),
		f2(r.Attitude.Roll),
		f2(r.Attitude.Pitch),
		f2(r.Attitude.RollRate),
		f2(r.Attitude.PitchRate),
		f2(r.Attitude.YawRate),
		f3(r.Setpoint.Throttle),
		f3(r.Motors[0]),
		f3(r.Motors[1]),
		f3(r.Motors[2]),
		f3(r.Motors[3]),
		r.Arm.String(),
		r.Mode.String(),
		strconv.FormatUint(uint64(r.Status), 16),
	}
	body := strings.Join(fields, ",")
	return "$" + body + "*" + nmea.Checksum(body)
}

func parseQTEL(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	q := QTEL{
		BaseSentence: s,
		Seq:          p.Int64(0, "seq"),
		Roll:         p.Float64(1, "roll"),
		Pitch:        p.Float64(2, "pitch"),
		RollRate:     p.Float64(3, "roll rate"),
		PitchRate:    p.Float64(4, "pitch rate"),
		YawRate:      p.Float64(5, "yaw rate"),
		Throttle:     p.Float64(6, "throttle"),
	}
	for i := range q.Motors {
		q.Motors[i] = p.Float64(7+i, fmt.Sprintf("motor %d", i))
	}
	if err := q.Arm.UnmarshalText([]byte(p.String(11, "arm"))); err != nil && p.Err() == nil {
		return nil, err
	}
	if err := q.Mode.UnmarshalText([]byte(p.String(12, "mode"))); err != nil && p.Err() == nil {
		return nil, err
	}
	st, err := strconv.ParseUint(p.String(13, "status"), 16, 16)
	if err != nil && p.Err() == nil {
		return nil, fmt.Errorf("nmea: %s invalid status: %w", SentenceType, err)
	}
	q.Status = Status(st)
	return q, p.Err()
}

// NewSentenceParser returns a go-nmea parser that understands $PQTEL.
func NewSentenceParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{
			// proprietary sentences are keyed without the leading P in newer
			// go-nmea releases
			"QTEL":       parseQTEL,
			SentenceType: parseQTEL,
		},
	}
}

// ParseSentence parses a $PQTEL line.
func ParseSentence(line string) (QTEL, error) {
	s, err := NewSentenceParser().Parse(strings.TrimSpace(line))
	if err != nil {
		return QTEL{}, err
	}
	q, ok := s.(QTEL)
	if !ok {
		return QTEL{}, fmt.Errorf("nmea: unexpected sentence %s", s.DataType())
	}
	return q, nil
}
