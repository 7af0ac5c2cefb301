package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// EventType identifies outbound stream payload variants.
type EventType string

const (
	TypeProcessing EventType = "processing"
	TypeDone       EventType = "done"
	TypeError      EventType = "error"
)

// Event is the envelope multiplexed onto one outbound stream per request.
// Processing events may repeat; done and error are terminal.
type Event struct {
	Type     EventType `json:"type"`
	Activity string    `json:"activity,omitempty"`
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Expression is one of several equally valid next branches a task can offer.
type Expression struct {
	Label string `json:"label"`
	ID    string `json:"id"`
}

// Response is the terminal payload of one routed turn.
type Response struct {
	Message               string       `json:"message"`
	IntentSuggestions     []string     `json:"intent_suggestions,omitempty"`
	ExpressionSuggestions []Expression `json:"expression_suggestions,omitempty"`
	SignURL               string       `json:"sign_url,omitempty"`
	TransactionHash       string       `json:"transaction_hash,omitempty"`
	RouteRecommendations  []string     `json:"route_recommendations,omitempty"`
}

// InterruptPayload is the structured body a task raises to ask for re-routing.
type InterruptPayload struct {
	Intent  string `json:"intent"`
	Message string `json:"message"`
}

var ErrMalformedInterrupt = errors.New("malformed interrupt payload")

// ParseInterruptPayload decodes an interrupt body. The body must be exactly
// one JSON object; anything else is a defect in the raising task and surfaces
// to the caller unretried.
func ParseInterruptPayload(raw string) (InterruptPayload, error) {
	dec := json.NewDecoder(strings.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return InterruptPayload{}, fmt.Errorf("%w: %v", ErrMalformedInterrupt, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return InterruptPayload{}, fmt.Errorf("%w: expected a JSON object", ErrMalformedInterrupt)
	}

	dec = json.NewDecoder(strings.NewReader(raw))
	var payload InterruptPayload
	if err := dec.Decode(&payload); err != nil {
		return InterruptPayload{}, fmt.Errorf("%w: %v", ErrMalformedInterrupt, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return InterruptPayload{}, fmt.Errorf("%w: trailing data after object", ErrMalformedInterrupt)
	}
	return payload, nil
}

// EncodeInterruptPayload builds the wire form tasks raise interrupts with.
func EncodeInterruptPayload(intent, message string) string {
	out, _ := json.Marshal(InterruptPayload{Intent: intent, Message: message})
	return string(out)
}
