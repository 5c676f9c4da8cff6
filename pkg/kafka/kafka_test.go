package kafka

import (
	"testing"
	"time"
)

type buildNotice struct {
	BuildID   string    `json:"build_id"`
	Documents int       `json:"documents"`
	At        time.Time `json:"at"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[buildNotice]([]byte(`{"build_id":"b1","documents":7,"at":"2024-05-01T10:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.BuildID != "b1" || got.Documents != 7 || got.At.Year() != 2024 {
		t.Errorf("unexpected decode result %+v", got)
	}

	if _, err := DecodeJSON[buildNotice]([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed value")
	}
}
