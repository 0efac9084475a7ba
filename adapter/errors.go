package adapter

import (
	"errors"
	"fmt"

	simplejson "github.com/bitly/go-simplejson"

	"marketfeed/models"
)

// ErrUnknownExchange is returned when no descriptor is registered for an
// exchange name.
var ErrUnknownExchange = errors.New("unknown exchange")

const maxPayloadLog = 2048

// FetchError is a transport failure while reaching the exchange.
type FetchError struct {
	Exchange   string
	Instrument string
	Operation  string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %s failed: %v", e.Exchange, e.Instrument, e.Operation, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedResponseError is a payload that does not carry the fields the
// descriptor expects. Payload holds the offending document, capped for logs.
type MalformedResponseError struct {
	Exchange   string
	Instrument string
	Field      string
	Reason     string
	Payload    string
}

func (e *MalformedResponseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s %s: malformed response: %s", e.Exchange, e.Instrument, e.Reason)
	}
	return fmt.Sprintf("%s %s: malformed response: field %q %s", e.Exchange, e.Instrument, e.Field, e.Reason)
}

func newFetchError(id models.InstrumentID, op string, err error) *FetchError {
	return &FetchError{Exchange: id.Exchange, Instrument: id.Name, Operation: op, Err: err}
}

func malformed(id models.InstrumentID, field, reason string, payload *simplejson.Json) *MalformedResponseError {
	return &MalformedResponseError{
		Exchange:   id.Exchange,
		Instrument: id.Name,
		Field:      field,
		Reason:     reason,
		Payload:    payloadString(payload),
	}
}

func payloadString(payload *simplejson.Json) string {
	if payload == nil {
		return ""
	}
	b, err := payload.MarshalJSON()
	if err != nil {
		return ""
	}
	return truncate(b)
}

func truncate(b []byte) string {
	if len(b) > maxPayloadLog {
		return string(b[:maxPayloadLog]) + "..."
	}
	return string(b)
}
