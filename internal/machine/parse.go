package machine

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedStatus wraps parse failures so callers can tell a garbled
// reply apart from a transport failure.
type ErrMalformedStatus struct {
	Raw    string
	Reason string
}

func (e *ErrMalformedStatus) Error() string {
	return fmt.Sprintf("malformed status report %q: %s", e.Raw, e.Reason)
}

func parseTriple(data string) (Position, error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return Position{}, fmt.Errorf("expected 3 coordinates, got %d", len(parts))
	}
	var p Position
	var err error
	if p.X, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return Position{}, err
	}
	if p.Y, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return Position{}, err
	}
	if p.Z, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return Position{}, err
	}
	return p, nil
}

func parseMode(field string) Mode {
	// Sub-state suffixes like "Hold:0" or "Door:1" collapse to the base mode.
	base, _, _ := strings.Cut(field, ":")
	switch Mode(base) {
	case ModeIdle, ModeRun, ModeHold, ModeJog, ModeHome, ModeAlarm, ModeDoor, ModeCheck, ModeSleep:
		return Mode(base)
	}
	return ModeUnknown
}

// ParseStatus parses a GRBL real-time status report of the form
// <Idle|MPos:0.000,0.000,0.000|FS:0,0|WCO:0.000,0.000,0.000> into a State.
// The returned snapshot carries no timestamp or source tag; the probe
// fills those in when it publishes.
func ParseStatus(raw string) (*State, error) {
	body := strings.TrimSpace(raw)
	if !strings.HasPrefix(body, "<") || !strings.HasSuffix(body, ">") {
		return nil, &ErrMalformedStatus{Raw: raw, Reason: "missing <...> framing"}
	}
	body = strings.TrimSuffix(strings.TrimPrefix(body, "<"), ">")
	if body == "" {
		return nil, &ErrMalformedStatus{Raw: raw, Reason: "empty report"}
	}

	fields := strings.Split(body, "|")
	st := &State{Mode: parseMode(fields[0])}

	var mpos, wpos, wco *Position
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		switch key {
		case "MPos":
			p, err := parseTriple(val)
			if err != nil {
				return nil, &ErrMalformedStatus{Raw: raw, Reason: "MPos: " + err.Error()}
			}
			mpos = &p
		case "WPos":
			p, err := parseTriple(val)
			if err != nil {
				return nil, &ErrMalformedStatus{Raw: raw, Reason: "WPos: " + err.Error()}
			}
			wpos = &p
		case "WCO":
			p, err := parseTriple(val)
			if err != nil {
				return nil, &ErrMalformedStatus{Raw: raw, Reason: "WCO: " + err.Error()}
			}
			wco = &p
		case "FS":
			parts := strings.Split(val, ",")
			if len(parts) == 2 {
				st.FeedRate, _ = strconv.ParseFloat(parts[0], 64)
				st.SpindleSpeed, _ = strconv.ParseFloat(parts[1], 64)
			}
		}
	}

	// GRBL reports either MPos or WPos per report, with WCO sent
	// periodically. Reconstruct the missing triple when the offset is known.
	switch {
	case mpos != nil:
		st.Position = *mpos
		if wco != nil {
			st.WorkPosition = mpos.Add(wco.Neg())
		} else if wpos != nil {
			st.WorkPosition = *wpos
		} else {
			st.WorkPosition = *mpos
		}
	case wpos != nil:
		st.WorkPosition = *wpos
		if wco != nil {
			st.Position = wpos.Add(*wco)
		} else {
			st.Position = *wpos
		}
	default:
		return nil, &ErrMalformedStatus{Raw: raw, Reason: "no position field"}
	}

	return st, nil
}
