package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageStartRun(t *testing.T) {
	raw := []byte(`{"type":"start_run","session_id":"s1","text":"Hello. World!","voice_id":"expr-voice-3-m","speed":1.2}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	start, ok := msg.(StartRun)
	if !ok {
		t.Fatalf("message type = %T, want StartRun", msg)
	}
	if start.SessionID != "s1" || start.Text != "Hello. World!" || start.VoiceID != "expr-voice-3-m" || start.Speed != 1.2 {
		t.Fatalf("unexpected start_run: %+v", start)
	}
}

func TestParseClientMessageRejectsInvalidStartRun(t *testing.T) {
	cases := map[string]string{
		"no session": `{"type":"start_run","text":"hi"}`,
		"blank text": `{"type":"start_run","session_id":"s1","text":"  \n"}`,
		"bad speed":  `{"type":"start_run","session_id":"s1","text":"hi","speed":-2}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(raw)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"status"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionStatus {
		t.Fatalf("unexpected client control: %+v", control)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1"}`)); err == nil {
		t.Fatalf("expected error for missing action")
	}
}

func BenchmarkParseClientMessageStartRun(b *testing.B) {
	raw := []byte(`{"type":"start_run","session_id":"s1","text":"The quick brown fox. It jumped!","voice_id":"expr-voice-2-f","speed":1}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(StartRun); !ok {
			b.Fatalf("message type = %T, want StartRun", msg)
		}
	}
}
