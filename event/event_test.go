package event

import (
	"errors"
	"strings"
	"testing"
)

func TestNewStampsAndRecordsError(t *testing.T) {
	e := New(OpConnect, 5, true, "k=v", errors.New("boom"))

	if e.Timestamp.IsZero() {
		t.Error("Expected a timestamp")
	}
	if e.Op != OpConnect || e.FD != 5 || !e.Delegated {
		t.Errorf("Unexpected event fields: %+v", e)
	}
	if e.Err != "boom" {
		t.Errorf("Expected error text recorded, got %q", e.Err)
	}

	ok := New(OpClose, 5, false, "", nil)
	if ok.Err != "" {
		t.Errorf("Expected empty error text, got %q", ok.Err)
	}
}

func TestFormat(t *testing.T) {
	line := Format(New(OpSetOption, 3, true, "level=300 opt=1", errors.New("nope")))

	for _, want := range []string{"setsockopt", "fd=3", "mode=delegated", "level=300 opt=1", `err="nope"`} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}

	line = Format(New(OpBind, 3, false, "", nil))
	if !strings.Contains(line, "mode=forwarded") {
		t.Errorf("Expected forwarded mode in %q", line)
	}
}
