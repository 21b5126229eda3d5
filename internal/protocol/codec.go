package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/inbound.json
var schemaFS embed.FS

// Envelope is the outer shape of every frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a decoded and validated client frame. Payload holds one of the
// inbound payload structs by value.
type Inbound struct {
	Type    string
	Payload any
}

var factories = map[string]func() any{
	TypeJoinSession:              func() any { return &JoinSession{} },
	TypeLeaveSession:             func() any { return &LeaveSession{} },
	TypeSelectCharacter:          func() any { return &SelectCharacter{} },
	TypePlayerAction:             func() any { return &PlayerAction{} },
	TypeDirectorAction:           func() any { return &DirectorAction{} },
	TypeMoveToRegion:             func() any { return &MoveToRegion{} },
	TypeExitToLocation:           func() any { return &ExitToLocation{} },
	TypeAdvanceTime:              func() any { return &AdvanceTime{} },
	TypeStagingApprovalResponse:  func() any { return &StagingApprovalResponse{} },
	TypeStagingRegenerateRequest: func() any { return &StagingRegenerateRequest{} },
	TypePreStageRegion:           func() any { return &PreStageRegion{} },
	TypePing:                     func() any { return &Ping{} },
}

// Decoder validates inbound frames against per-type JSON schemas.
type Decoder struct {
	schemas map[string]*gojsonschema.Schema
}

// NewDecoder compiles the embedded schemas.
func NewDecoder() (*Decoder, error) {
	raw, err := schemaFS.ReadFile("schemas/inbound.json")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	var defs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}

	d := &Decoder{schemas: make(map[string]*gojsonschema.Schema, len(defs))}
	for typ := range factories {
		def, ok := defs[typ]
		if !ok {
			return nil, fmt.Errorf("missing schema for %s", typ)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(def))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", typ, err)
		}
		d.schemas[typ] = schema
	}
	return d, nil
}

// Decode parses, validates and decodes one frame. All failures are
// INVALID_MESSAGE domain errors.
func (d *Decoder) Decode(data []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, domain.Validation(domain.CodeInvalidMessage, "malformed frame")
	}
	schema, ok := d.schemas[env.Type]
	if !ok {
		return Inbound{}, domain.Validation(domain.CodeInvalidMessage, "unknown message type %q", env.Type)
	}

	payload := env.Payload
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = json.RawMessage("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return Inbound{}, domain.Validation(domain.CodeInvalidMessage, "invalid %s payload", env.Type)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return Inbound{}, domain.Validation(domain.CodeInvalidMessage, "invalid %s payload: %s", env.Type, strings.Join(msgs, "; "))
	}

	target := factories[env.Type]()
	if err := json.Unmarshal(payload, target); err != nil {
		return Inbound{}, domain.Validation(domain.CodeInvalidMessage, "invalid %s payload", env.Type)
	}
	return Inbound{Type: env.Type, Payload: deref(target)}, nil
}

func deref(v any) any {
	switch p := v.(type) {
	case *JoinSession:
		return *p
	case *LeaveSession:
		return *p
	case *SelectCharacter:
		return *p
	case *PlayerAction:
		return *p
	case *DirectorAction:
		return *p
	case *MoveToRegion:
		return *p
	case *ExitToLocation:
		return *p
	case *AdvanceTime:
		return *p
	case *StagingApprovalResponse:
		return *p
	case *StagingRegenerateRequest:
		return *p
	case *PreStageRegion:
		return *p
	case *Ping:
		return *p
	}
	return v
}

// Encode serializes an outbound frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return data, nil
}
