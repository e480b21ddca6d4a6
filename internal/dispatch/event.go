// Package dispatch decodes control-plane event batches and routes each
// event to the session or system action it names.
package dispatch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Kind identifies an event. The integer values are the wire codes agreed
// with the authority.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindUpgrade
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindUpgrade:
		return "upgrade"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one decoded control-plane event. It is one of Connect,
// Disconnect, Upgrade or Command.
type Event interface {
	Kind() Kind
}

// Connect authenticates the client holding Token. Zero quotas mean the
// local defaults apply.
type Connect struct {
	Token         string
	Seconds       int64
	BandwidthKbps uint64
}

// Disconnect deauthenticates the client holding Token.
type Disconnect struct {
	Token string
}

// Upgrade flashes the firmware image found at URL.
type Upgrade struct {
	Token string
	URL   string
}

// Command runs a shell command on the access point.
type Command struct {
	Token   string
	Command string
}

func (Connect) Kind() Kind    { return KindConnect }
func (Disconnect) Kind() Kind { return KindDisconnect }
func (Upgrade) Kind() Kind    { return KindUpgrade }
func (Command) Kind() Kind    { return KindCommand }

// Wire field names.
const (
	fieldType     = "eventType"
	fieldToken    = "userToken"
	fieldSeconds  = "connectionTime"
	fieldBW       = "allowedBW"
	fieldURL      = "upgradeUrl"
	fieldCommand  = "remoteCommand"
	reasonMissing = "missing"
)

// DecodeError describes why one event in a batch was rejected.
type DecodeError struct {
	Index  int
	Kind   string
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event %d", e.Index)
	if e.Kind != "" {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

type fields map[string]json.RawMessage

// Decode validates every field the event's kind requires before building
// it. A *DecodeError is returned for anything missing or mistyped.
func Decode(raw json.RawMessage) (Event, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, &DecodeError{Reason: "not a JSON object"}
	}

	code, err := f.integer(fieldType, true)
	if err != nil {
		return nil, err
	}
	kind := Kind(code)
	name := kind.String()

	fail := func(err error) (Event, error) {
		if de, ok := err.(*DecodeError); ok {
			de.Kind = name
		}
		return nil, err
	}

	switch kind {
	case KindConnect:
		token, err := f.nonEmpty(fieldToken)
		if err != nil {
			return fail(err)
		}
		seconds, err := f.integer(fieldSeconds, false)
		if err != nil {
			return fail(err)
		}
		bw, err := f.integer(fieldBW, false)
		if err != nil {
			return fail(err)
		}
		return Connect{Token: token, Seconds: seconds, BandwidthKbps: uint64(bw)}, nil

	case KindDisconnect:
		token, err := f.nonEmpty(fieldToken)
		if err != nil {
			return fail(err)
		}
		return Disconnect{Token: token}, nil

	case KindUpgrade:
		token, err := f.text(fieldToken, false)
		if err != nil {
			return fail(err)
		}
		link, err := f.nonEmpty(fieldURL)
		if err != nil {
			return fail(err)
		}
		u, perr := url.Parse(link)
		if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fail(&DecodeError{Field: fieldURL, Reason: "not an http(s) URL"})
		}
		return Upgrade{Token: token, URL: link}, nil

	case KindCommand:
		token, err := f.text(fieldToken, false)
		if err != nil {
			return fail(err)
		}
		cmd, err := f.nonEmpty(fieldCommand)
		if err != nil {
			return fail(err)
		}
		return Command{Token: token, Command: cmd}, nil

	default:
		return nil, &DecodeError{Field: fieldType, Reason: fmt.Sprintf("unknown event type %d", code)}
	}
}

// integer decodes a non-negative integer field. Absent optional fields are 0.
func (f fields) integer(name string, required bool) (int64, error) {
	raw, ok := f[name]
	if !ok || string(raw) == "null" {
		if required {
			return 0, &DecodeError{Field: name, Reason: reasonMissing}
		}
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, &DecodeError{Field: name, Reason: "not an integer"}
	}
	if n < 0 {
		return 0, &DecodeError{Field: name, Reason: "negative"}
	}
	return n, nil
}

func (f fields) text(name string, required bool) (string, error) {
	raw, ok := f[name]
	if !ok || string(raw) == "null" {
		if required {
			return "", &DecodeError{Field: name, Reason: reasonMissing}
		}
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &DecodeError{Field: name, Reason: "not a string"}
	}
	return s, nil
}

func (f fields) nonEmpty(name string) (string, error) {
	s, err := f.text(name, true)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", &DecodeError{Field: name, Reason: "empty"}
	}
	return s, nil
}
