package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSSEEventFormatsFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	SendSSEEvent(rec, rec, "turn", map[string]string{"role": "user"})

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	want := "event: turn\ndata: {\"role\":\"user\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected frame %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Fatal("expected flush")
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondError(rec, http.StatusNotFound, "run not found")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"error\":\"run not found\"}\n" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
