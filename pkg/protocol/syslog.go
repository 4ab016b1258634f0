// Parsing grounds the same "split bytes into typed fields, tolerate a
// malformed subset of the input" shape the Docker json-file log line
// parser uses (internal/monitors/docker_json_parser.go), generalized
// here to RFC 5424/3164 syslog framing instead of Docker's JSON
// log-line envelope.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sswcorp/flowcore/pkg/event"
	"github.com/sswcorp/flowcore/pkg/handle"
	"github.com/sswcorp/flowcore/pkg/value"
)

// ParseSyslog builds an *event.Event from one de-framed syslog message,
// attempting RFC 5424 structure first and falling back to a permissive
// RFC 3164-ish split when the message doesn't carry a VERSION field.
// proto records which wire framing delivered raw, the proto u8
// on-disk field.
func ParseSyslog(raw []byte, registry *handle.Registry, tagRegistry *event.TagRegistry, proto event.Proto) (*event.Event, error) {
	ev := event.NewSized(registry, tagRegistry, raw)
	ev.SetProto(proto)
	now := time.Now()
	if err := ev.SetTimestamp(event.TSReceived, toDateTime(now)); err != nil {
		return nil, err
	}

	pri, rest, ok := splitPRI(raw)
	if !ok {
		if err := ev.SetTagName("syslog.missing_pri"); err != nil {
			return nil, err
		}
		if err := ev.SetValue(handle.HMessage, value.NewString(string(raw))); err != nil {
			return nil, err
		}
		return ev, nil
	}
	ev.SetPri(pri)

	if body, ok := strings.CutPrefix(string(rest), "1 "); ok {
		return parseRFC5424Body(ev, body, registry, tagRegistry)
	}
	return parseRFC3164Body(ev, string(rest), registry, tagRegistry)
}

func toDateTime(t time.Time) value.DateTime {
	_, offset := t.Zone()
	return value.DateTime{Sec: t.Unix(), Usec: int32(t.Nanosecond() / 1000), GMTOff: int32(offset)}
}

// splitPRI parses a leading "<NNN>" priority marker.
func splitPRI(raw []byte) (pri int, rest []byte, ok bool) {
	if len(raw) == 0 || raw[0] != '<' {
		return 0, raw, false
	}
	end := -1
	for i := 1; i < len(raw) && i < 6; i++ {
		if raw[i] == '>' {
			end = i
			break
		}
	}
	if end < 0 {
		return 0, raw, false
	}
	n, err := strconv.Atoi(string(raw[1:end]))
	if err != nil {
		return 0, raw, false
	}
	return n, raw[end+1:], true
}

// parseRFC5424Body parses "TIMESTAMP HOSTNAME APP-NAME PROCID MSGID
// STRUCTURED-DATA MSG" after the "<PRI>1 " header has been consumed.
func parseRFC5424Body(ev *event.Event, body string, registry *handle.Registry, tagRegistry *event.TagRegistry) (*event.Event, error) {
	fields, msg := splitNFields(body, 5)
	if len(fields) < 5 {
		if err := ev.SetTagName("syslog.rfc5424_truncated"); err != nil {
			return nil, err
		}
		if err := ev.SetValue(handle.HMessage, value.NewString(body)); err != nil {
			return nil, err
		}
		return ev, nil
	}

	ts, host, app, procID, msgID := fields[0], fields[1], fields[2], fields[3], fields[4]

	if ts != "-" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			if err := ev.SetTimestamp(event.TSMessage, toDateTime(t)); err != nil {
				return nil, err
			}
		}
	}
	if host == "-" || host == "" {
		if err := ev.SetTagName("syslog.rfc5424_missing_hostname"); err != nil {
			return nil, err
		}
	} else if err := ev.SetValue(handle.HHost, value.NewString(host)); err != nil {
		return nil, err
	}
	if app != "-" {
		if err := ev.SetValue(handle.HProgram, value.NewString(app)); err != nil {
			return nil, err
		}
	}
	if procID != "-" {
		if err := ev.SetValue(handle.HPid, value.NewString(procID)); err != nil {
			return nil, err
		}
	}
	if msgID != "-" {
		if err := ev.SetValue(handle.HMsgID, value.NewString(msgID)); err != nil {
			return nil, err
		}
	}

	sdText, msgText := splitStructuredData(msg)
	if err := parseStructuredData(ev, sdText, registry); err != nil {
		return nil, err
	}
	if err := ev.SetValue(handle.HMessage, value.NewString(strings.TrimPrefix(msgText, " "))); err != nil {
		return nil, err
	}
	return ev, nil
}

// parseRFC3164Body is a permissive best-effort split of the legacy BSD
// format: "Mmm dd hh:mm:ss host tag: message". A body too short for a
// timestamp, or with no hostname, is kept in MESSAGE and tagged; when no
// plausible program tag follows the hostname, the text after the
// hostname becomes MESSAGE untagged.
func parseRFC3164Body(ev *event.Event, body string, registry *handle.Registry, tagRegistry *event.TagRegistry) (*event.Event, error) {
	body = strings.TrimPrefix(body, " ")
	if len(body) < 16 {
		if err := ev.SetTagName("syslog.rfc3164_short"); err != nil {
			return nil, err
		}
		return ev, ev.SetValue(handle.HMessage, value.NewString(body))
	}

	timestampPart, rest := body[:15], strings.TrimPrefix(body[15:], " ")
	if t, err := time.Parse("Jan _2 15:04:05", timestampPart); err == nil {
		now := time.Now()
		t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, now.Location())
		if err := ev.SetTimestamp(event.TSMessage, toDateTime(t)); err != nil {
			return nil, err
		}
	}

	host, msg, found := strings.Cut(rest, " ")
	if !found {
		if err := ev.SetTagName("syslog.rfc3164_missing_hostname"); err != nil {
			return nil, err
		}
		return ev, ev.SetValue(handle.HMessage, value.NewString(rest))
	}
	if err := ev.SetValue(handle.HHost, value.NewString(host)); err != nil {
		return nil, err
	}

	if tag, remainder, ok := strings.Cut(msg, ": "); ok && isLikelyTag(tag) {
		program, pid := splitProgramPid(tag)
		if err := ev.SetValue(handle.HProgram, value.NewString(program)); err != nil {
			return nil, err
		}
		if pid != "" {
			if err := ev.SetValue(handle.HPid, value.NewString(pid)); err != nil {
				return nil, err
			}
		}
		return ev, ev.SetValue(handle.HMessage, value.NewString(remainder))
	}
	return ev, ev.SetValue(handle.HMessage, value.NewString(msg))
}

func isLikelyTag(tag string) bool {
	if tag == "" || len(tag) > 32 {
		return false
	}
	return !strings.ContainsAny(tag, " \t")
}

func splitProgramPid(tag string) (program, pid string) {
	if i := strings.IndexByte(tag, '['); i >= 0 && strings.HasSuffix(tag, "]") {
		return tag[:i], tag[i+1 : len(tag)-1]
	}
	return tag, ""
}

// splitNFields splits s on the first n spaces, returning the n fields
// and whatever remains (the message, which may itself contain spaces).
func splitNFields(s string, n int) (fields []string, rest string) {
	for i := 0; i < n; i++ {
		field, remainder, found := strings.Cut(s, " ")
		if !found {
			fields = append(fields, field)
			return fields, ""
		}
		fields = append(fields, field)
		s = remainder
	}
	return fields, s
}

// splitStructuredData separates a leading STRUCTURED-DATA block
// ("-" or one-or-more "[...]" groups) from the trailing free-text MSG.
func splitStructuredData(s string) (sd string, msg string) {
	if strings.HasPrefix(s, "-") {
		return "", strings.TrimPrefix(s, "-")
	}
	if !strings.HasPrefix(s, "[") {
		return "", s
	}
	depth := 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				// Not the last SD element if the next byte is another '['.
				if i+1 < len(s) && s[i+1] == '[' {
					continue
				}
				return s[:i+1], s[i+1:]
			}
		}
	}
	return s, ""
}

// parseStructuredData parses "[id@enterprise key=\"value\" ...][...]"
// into ".SDATA.id.key" handles.
func parseStructuredData(ev *event.Event, sd string, registry *handle.Registry) error {
	for len(sd) > 0 {
		if sd[0] != '[' {
			return fmt.Errorf("protocol: malformed structured data: %q", sd)
		}
		end := strings.IndexByte(sd, ']')
		if end < 0 {
			return fmt.Errorf("protocol: unterminated structured-data element: %q", sd)
		}
		element := sd[1:end]
		sd = sd[end+1:]

		idEnd := strings.IndexByte(element, ' ')
		if idEnd < 0 {
			idEnd = len(element)
		}
		blockID := element[:idEnd]
		params := element[idEnd:]

		for len(params) > 0 {
			params = strings.TrimPrefix(params, " ")
			eq := strings.IndexByte(params, '=')
			if eq < 0 {
				break
			}
			key := params[:eq]
			params = params[eq+1:]
			if len(params) == 0 || params[0] != '"' {
				break
			}
			params = params[1:]
			valEnd := findUnescapedQuote(params)
			if valEnd < 0 {
				break
			}
			val := strings.ReplaceAll(params[:valEnd], `\"`, `"`)
			params = params[valEnd+1:]

			h := registry.GetHandle(fmt.Sprintf(".SDATA.%s.%s", blockID, key))
			if err := ev.SetValue(h, value.NewString(val)); err != nil {
				return err
			}
		}
	}
	return nil
}

func findUnescapedQuote(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '"' && (i == 0 || s[i-1] != '\\') {
			return i
		}
	}
	return -1
}
