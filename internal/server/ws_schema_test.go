package server

import (
	"encoding/json"
	"testing"
)

func mustFrame(t *testing.T, raw string) (wsFrame, []byte) {
	t.Helper()
	var frame wsFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame, []byte(raw)
}

func TestValidateWSFrameAcceptsChat(t *testing.T) {
	frame, raw := mustFrame(t, `{"id": "1", "method": "chat", "params": {"session_id": "s", "message": "hi"}}`)
	if err := validateWSFrame(raw, &frame); err != nil {
		t.Fatalf("expected valid chat frame, got %v", err)
	}
}

func TestValidateWSFrameRejectsChatWithoutMessage(t *testing.T) {
	frame, raw := mustFrame(t, `{"method": "chat", "params": {"session_id": "s"}}`)
	if err := validateWSFrame(raw, &frame); err == nil {
		t.Fatalf("chat without message must be rejected")
	}
}

func TestValidateWSFrameRejectsMissingMethod(t *testing.T) {
	frame, raw := mustFrame(t, `{"id": "1"}`)
	if err := validateWSFrame(raw, &frame); err == nil {
		t.Fatalf("frame without method must be rejected")
	}
}

func TestValidateWSFrameSubscribeParamsOptional(t *testing.T) {
	frame, raw := mustFrame(t, `{"method": "subscribe"}`)
	if err := validateWSFrame(raw, &frame); err != nil {
		t.Fatalf("subscribe without params must validate, got %v", err)
	}
}

func TestValidateWSFrameUnknownMethodPassesSchema(t *testing.T) {
	// Unknown methods validate at the envelope level; dispatch rejects them.
	frame, raw := mustFrame(t, `{"method": "no.such.method"}`)
	if err := validateWSFrame(raw, &frame); err != nil {
		t.Fatalf("unknown method should pass envelope validation, got %v", err)
	}
}
