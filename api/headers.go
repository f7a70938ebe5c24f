package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dnlfm/done/message"
)

const (
	headerNotBefore  = "Done-Not-Before"
	headerDelay      = "Done-Delay"
	forwardPrefix    = "Done-Forward-"
	commandPrefix    = "Done-"
)

// parseIngressHeaders splits the request's Done-* headers into forward
// headers, command headers, and the resolved publish_at instant (spec
// §6.1). Unrecognized non-Done headers are ignored.
func parseIngressHeaders(h http.Header, now time.Time) (message.Headers, time.Time, error) {
	headers := message.Headers{
		Forward: make(map[string]string),
		Command: make(map[string]string),
	}

	var notBefore *time.Time
	var delay time.Duration
	haveDelay := false

	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		value := values[0]

		switch {
		case strings.EqualFold(name, headerNotBefore):
			sec, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return message.Headers{}, time.Time{}, fmt.Errorf("invalid %s: %w", headerNotBefore, err)
			}
			t := time.Unix(sec, 0).UTC()
			notBefore = &t

		case strings.EqualFold(name, headerDelay):
			d, err := parseRelativeDelay(value)
			if err != nil {
				return message.Headers{}, time.Time{}, fmt.Errorf("invalid %s: %w", headerDelay, err)
			}
			delay = d
			haveDelay = true

		case hasPrefixFold(name, forwardPrefix):
			forwardName := strings.ToLower(name[len(forwardPrefix):])
			headers.Forward[forwardName] = value

		case hasPrefixFold(name, commandPrefix):
			commandName := strings.ToLower(name[len(commandPrefix):])
			headers.Command[commandName] = value
		}
	}

	publishAt := now
	switch {
	case notBefore != nil:
		publishAt = *notBefore
	case haveDelay:
		publishAt = now.Add(delay)
	}

	return headers, publishAt, nil
}

// hasPrefixFold reports whether name starts with prefix, case-insensitively.
func hasPrefixFold(name, prefix string) bool {
	return len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix)
}

// parseRelativeDelay parses "<N><s|m|h|d>" into a Duration.
func parseRelativeDelay(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty delay")
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", s, err)
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid delay unit %q", string(unit))
	}
}
