package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-scan/internal/facematch"
	"github.com/kozaktomas/face-scan/internal/scanner"
)

// Command types
const (
	CommandDo   = "do"
	CommandStop = "stop"
)

// Event types
const (
	EventUpdate = "update"
	EventDone   = "done"
)

// Done statuses. The status field is additive: matched stays null for every
// status except a completed scan with a match.
const (
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
	StatusRejected  = "rejected"
)

// Command is an inbound control message.
type Command struct {
	Type  string `json:"type"`
	Work  *Work  `json:"work,omitempty"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Work is the payload of a do command.
type Work struct {
	ID      string               `json:"id"`
	Items   []ItemPayload        `json:"items"`
	Feature map[string][]float64 `json:"feature"`
}

// ItemPayload is the wire form of one candidate slot. Exactly one field is set.
type ItemPayload struct {
	Raw     []byte               `json:"raw,omitempty"`
	Feature map[string][]float64 `json:"feature,omitempty"`
	NoFace  bool                 `json:"noFace,omitempty"`
}

// Slot converts the payload to a scanner slot.
func (p ItemPayload) Slot() (scanner.Slot, error) {
	switch {
	case p.NoFace:
		return scanner.NoFaceSlot(), nil
	case p.Feature != nil:
		fv, err := facematch.FromMap(p.Feature)
		if err != nil {
			return scanner.Slot{}, err
		}
		return scanner.FeatureSlot(fv), nil
	default:
		return scanner.RawSlot(p.Raw), nil
	}
}

// PayloadFromSlot converts a scanner slot to its wire form.
func PayloadFromSlot(s scanner.Slot) ItemPayload {
	switch s.Kind {
	case scanner.SlotFeature:
		return ItemPayload{Feature: s.Feature.Map()}
	case scanner.SlotNoFace:
		return ItemPayload{NoFace: true}
	default:
		return ItemPayload{Raw: s.Raw}
	}
}

// DecodeCommand parses and validates an inbound message.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to parse command: %w", err)
	}
	switch cmd.Type {
	case CommandStop:
		return cmd, nil
	case CommandDo:
		if cmd.Work == nil {
			return Command{}, errors.New("do command without work")
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// Request builds the scan request carried by a do command.
func (c Command) Request() (scanner.Request, error) {
	if c.Work == nil {
		return scanner.Request{}, errors.New("do command without work")
	}
	probe, err := facematch.FromMap(c.Work.Feature)
	if err != nil {
		return scanner.Request{}, fmt.Errorf("invalid probe feature: %w", err)
	}
	items := make(scanner.Items, len(c.Work.Items))
	for i, p := range c.Work.Items {
		slot, err := p.Slot()
		if err != nil {
			return scanner.Request{}, fmt.Errorf("item %d: %w", i, err)
		}
		items[i] = slot
	}
	return scanner.Request{
		WorkID: c.Work.ID,
		Probe:  probe,
		Items:  items,
		Start:  c.Start,
		End:    c.End,
	}, nil
}

// Matched is the winning candidate of a done event. Label is the absolute item index.
type Matched struct {
	Label      int     `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Event is an outbound message. Update events use Index and Slot, done events
// use Matched and Status.
type Event struct {
	Type   string
	Worker string
	Work   string

	Index int
	Slot  scanner.Slot

	Matched *Matched
	Status  string
}

type updateWire struct {
	Type   string               `json:"type"`
	Worker string               `json:"worker"`
	Work   string               `json:"work"`
	Index  int                  `json:"index"`
	Data   map[string][]float64 `json:"data"`
	NoFace bool                 `json:"noFace"`
}

type doneWire struct {
	Type    string   `json:"type"`
	Work    string   `json:"work"`
	Matched *Matched `json:"matched"`
	Worker  string   `json:"worker"`
	Status  string   `json:"status"`
}

// MarshalJSON writes the wire shape of the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventUpdate:
		w := updateWire{Type: e.Type, Worker: e.Worker, Work: e.Work, Index: e.Index}
		switch e.Slot.Kind {
		case scanner.SlotFeature:
			w.Data = e.Slot.Feature.Map()
		case scanner.SlotNoFace:
			w.NoFace = true
		}
		return json.Marshal(w)
	case EventDone:
		return json.Marshal(doneWire{Type: e.Type, Work: e.Work, Matched: e.Matched, Worker: e.Worker, Status: e.Status})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON reads either wire shape.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Type {
	case EventUpdate:
		var w updateWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{Type: w.Type, Worker: w.Worker, Work: w.Work, Index: w.Index}
		switch {
		case w.NoFace:
			e.Slot = scanner.NoFaceSlot()
		case w.Data != nil:
			fv, err := facematch.FromMap(w.Data)
			if err != nil {
				return err
			}
			e.Slot = scanner.FeatureSlot(fv)
		}
		return nil
	case EventDone:
		var w doneWire
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		*e = Event{Type: w.Type, Worker: w.Worker, Work: w.Work, Matched: w.Matched, Status: w.Status}
		return nil
	default:
		return fmt.Errorf("unknown event type %q", head.Type)
	}
}

// statusOf maps a scanner state to a done status.
func statusOf(s scanner.State) string {
	switch s {
	case scanner.StateCancelled:
		return StatusCancelled
	case scanner.StateFailed:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
