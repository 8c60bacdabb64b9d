package models

import (
	"fmt"
	"time"

	"github.com/segmentio/encoding/json"
)

func EncodeEnvelope(event string, data interface{}, serverID string, ts time.Time) ([]byte, error) {
	frame, err := json.Marshal(&Envelope{
		Event:     event,
		Data:      data,
		Timestamp: ts,
		ServerID:  serverID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", event, err)
	}
	return frame, nil
}

func DecodeFrame(raw []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("failed to decode frame: %w", err)
	}
	if frame.Event == "" {
		return frame, fmt.Errorf("failed to decode frame: missing event name")
	}
	return frame, nil
}

// DecodeData unmarshals the frame payload into v. An empty payload leaves v untouched.
func (f InboundFrame) DecodeData(v interface{}) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", f.Event, err)
	}
	return nil
}

func DecodeDomainEvent(raw []byte) (*DomainEvent, error) {
	var event DomainEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
