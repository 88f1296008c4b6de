package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"OptionLedger/internal/event"
)

var ErrUnroutableSubject = errors.New("unroutable subject")

// EventNameForSubject maps an inbound subject to the command wire name.
func EventNameForSubject(subject string) (string, error) {
	switch {
	case strings.HasPrefix(subject, CommandSubjectPrefix):
		name := strings.TrimPrefix(subject, CommandSubjectPrefix)
		if name == "" || strings.Contains(name, ".") {
			return "", fmt.Errorf("%w: %s", ErrUnroutableSubject, subject)
		}
		return name, nil
	case strings.HasPrefix(subject, FeedSubjectPrefix):
		return event.EventTypeMarketFeedUpdate.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnroutableSubject, subject)
	}
}

// ParseRawEvent converts a RawEvent into a typed event.Event. Payloads are the
// command's JSON encoding, the same bytes the event log stores.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	name, err := EventNameForSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return event.DecodeNamed(name, raw.Data)
}
