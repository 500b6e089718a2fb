package callsession

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Invite is the call described by a wake push.
type Invite struct {
	CallID     string
	CallerName string
}

// PayloadParser extracts an Invite from a wake push payload.
type PayloadParser struct {
	// MarkerKey is the top-level key that identifies a call push.
	MarkerKey string
	// CallIDPath is the dot-separated path to the call id.
	CallIDPath string
	// CallerPath is the dot-separated path to the caller display name.
	CallerPath string
}

// DefaultPayloadParser returns the parser for the calling backend's push format.
func DefaultPayloadParser() PayloadParser {
	return PayloadParser{
		MarkerKey:  "nexmo",
		CallIDPath: "nexmo.push_info.call_id",
		CallerPath: "nexmo.push_info.from_user.name",
	}
}

// Parse returns ErrUnrecognizedPayload for anything that is not a call push,
// and ErrInvalidInvite for a call push without a call id. A missing caller
// name falls back to DefaultCallerName.
func (p PayloadParser) Parse(payload []byte) (Invite, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Invite{}, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	if _, ok := doc[p.MarkerKey]; !ok {
		return Invite{}, ErrUnrecognizedPayload
	}

	callID, _ := lookupString(doc, p.CallIDPath)
	if callID == "" {
		return Invite{}, ErrInvalidInvite
	}

	caller, _ := lookupString(doc, p.CallerPath)
	if strings.TrimSpace(caller) == "" {
		caller = DefaultCallerName
	}
	return Invite{CallID: callID, CallerName: caller}, nil
}

func lookupString(doc map[string]any, path string) (string, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[key]; !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
