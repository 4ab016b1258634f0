package template

import (
	"fmt"
	"os"
	"time"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

// macroFunc renders one built-in macro. ts is the timestamp already
// selected for the macro's R_/S_/C_/P_ scope.
type macroFunc func(ev *event.Event, eo EvalOptions, ts value.DateTime) string

var processStart = time.Now()
var cachedHostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}()

var macroTable = map[string]macroFunc{
	"DATE":       func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return formatTimestamp(ts, eo.Format, eo.FracDigits, eo.Zone) },
	"ISODATE":    func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return formatTimestamp(ts, FormatISO, eo.FracDigits, eo.Zone) },
	"FULLDATE":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return formatTimestamp(ts, FormatFull, eo.FracDigits, eo.Zone) },
	"UNIXTIME":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return formatTimestamp(ts, FormatUnix, eo.FracDigits, eo.Zone) },
	"TZ":         func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return tzOffsetString(ts, eo.Zone) },
	"WEEK_DAY":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return zonedTime(ts, eo.Zone).Weekday().String()[:3] },
	"MONTH_NAME": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return zonedTime(ts, eo.Zone).Month().String()[:3] },

	"HOST":    func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fieldString(ev, handle.HHost) },
	"PROGRAM": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fieldString(ev, handle.HProgram) },
	"PID":     func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fieldString(ev, handle.HPid) },
	"MSGID":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fieldString(ev, handle.HMsgID) },
	"MSGHDR": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string {
		if v, ok := ev.GetValue(handle.HLegacyMsgHdr); ok {
			return v.AsString()
		}
		prog := fieldString(ev, handle.HProgram)
		if pid := fieldString(ev, handle.HPid); pid != "" {
			return fmt.Sprintf("%s[%s]: ", prog, pid)
		}
		return prog + ": "
	},
	"TAGS": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return ev.TagsString() },
	"PRI":  func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fmt.Sprintf("%d", ev.Pri()) },
	"SEVERITY": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string {
		return fmt.Sprintf("%d", ev.Pri()&0x7)
	},
	"FACILITY": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string {
		return fmt.Sprintf("%d", ev.Pri()>>3)
	},
	"SEQNUM":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fmt.Sprintf("%d", eo.SeqNum) },
	"RCPTID":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fmt.Sprintf("%d", ev.RcptID()) },
	"HOSTID":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fmt.Sprintf("%d", ev.HostID()) },
	"UNIQID":   func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return fmt.Sprintf("%08x%016x", ev.HostID(), ev.RcptID()) },
	"SYSUPTIME": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string {
		return fmt.Sprintf("%d", int64(time.Since(processStart).Seconds()*100))
	},
	"LOGHOST": func(ev *event.Event, eo EvalOptions, ts value.DateTime) string { return cachedHostname },
}

func fieldString(ev *event.Event, h handle.Handle) string {
	v, ok := ev.GetValue(h)
	if !ok {
		return ""
	}
	return v.AsString()
}

func zonedTime(ts value.DateTime, scope TZScope) time.Time {
	t := time.Unix(ts.Sec, int64(ts.Usec)*1000).UTC()
	if scope == TZSend {
		return t.In(time.FixedZone("", int(ts.GMTOff)))
	}
	return t.Local()
}

func tzOffsetString(ts value.DateTime, scope TZScope) string {
	off := ts.GMTOff
	if scope == TZLocal {
		_, localOff := time.Now().Zone()
		off = int32(localOff)
	}
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	return fmt.Sprintf("%s%02d%02d", sign, off/3600, (off%3600)/60)
}

// formatTimestamp renders ts per format, with fracDigits (0..6)
// fractional-second digits where the format supports them.
func formatTimestamp(ts value.DateTime, format TimestampFormat, fracDigits int, scope TZScope) string {
	t := zonedTime(ts, scope)
	frac := ""
	if fracDigits > 0 {
		if fracDigits > 6 {
			fracDigits = 6
		}
		micro := fmt.Sprintf("%06d", ts.Usec)[:fracDigits]
		frac = "." + micro
	}
	switch format {
	case FormatISO:
		return t.Format("2006-01-02T15:04:05") + frac + tzOffsetString(ts, scope)
	case FormatFull:
		return t.Format("2006-01-02 15:04:05") + frac
	case FormatUnix:
		return fmt.Sprintf("%d%s", ts.Sec, frac)
	default: // FormatBSD
		return t.Format("Jan _2 15:04:05") + frac
	}
}
