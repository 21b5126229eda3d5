package protocol

import (
	"encoding/json"
	"testing"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/stretchr/testify/require"
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	return d
}

func TestDecodeMoveToRegion(t *testing.T) {
	d := newDecoder(t)
	in, err := d.Decode([]byte(`{"type":"MoveToRegion","payload":{"pc_id":"p1","region_id":"r1"}}`))
	require.NoError(t, err)
	require.Equal(t, TypeMoveToRegion, in.Type)
	require.Equal(t, MoveToRegion{PCID: "p1", RegionID: "r1"}, in.Payload)
}

func TestDecodeApprovalResponse(t *testing.T) {
	d := newDecoder(t)
	frame := `{"type":"StagingApprovalResponse","payload":{
		"request_id":"req","ttl_hours":2,"source":"llm",
		"approved_npcs":[{"character_id":"x","is_present":true,"mood":"wary"}]}}`
	in, err := d.Decode([]byte(frame))
	require.NoError(t, err)

	resp, ok := in.Payload.(StagingApprovalResponse)
	require.True(t, ok, "payload type %T", in.Payload)
	require.Equal(t, 2, resp.TTLHours)
	require.Len(t, resp.ApprovedNpcs, 1)
	require.Equal(t, "wary", resp.ApprovedNpcs[0].Mood)
}

func TestDecodeEmptyPayload(t *testing.T) {
	d := newDecoder(t)
	in, err := d.Decode([]byte(`{"type":"LeaveSession"}`))
	require.NoError(t, err)
	require.Equal(t, LeaveSession{}, in.Payload)
}

func TestDecodeRejects(t *testing.T) {
	d := newDecoder(t)
	cases := map[string]string{
		"not json":         `{{`,
		"unknown type":     `{"type":"Teleport","payload":{}}`,
		"missing field":    `{"type":"MoveToRegion","payload":{"pc_id":"p1"}}`,
		"wrong type":       `{"type":"AdvanceTime","payload":{"hours":"two"}}`,
		"out of range":     `{"type":"AdvanceTime","payload":{"hours":0}}`,
		"bad npc in list":  `{"type":"PreStageRegion","payload":{"region_id":"r","ttl_hours":1,"npcs":[{"is_present":true}]}}`,
		"payload is array": `{"type":"JoinSession","payload":[]}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode([]byte(frame))
			require.Error(t, err)
			require.Equal(t, domain.CodeInvalidMessage, domain.AsError(err).Code)
		})
	}
}

func TestEncodeErrorMessage(t *testing.T) {
	data, err := Encode(ErrorMessage(domain.ErrStagingNotFound))
	require.NoError(t, err)

	var got struct {
		Type    string       `json:"type"`
		Payload ErrorPayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, TypeError, got.Type)
	require.Equal(t, "STAGING_NOT_FOUND", got.Payload.Code)
}
