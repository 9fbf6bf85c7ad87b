package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/internal/domain/rule"
	"github.com/intentgate/intentgate/pkg/optional"
)

func TestWriteJSONLines(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{ID: "e-2", Timestamp: time.Unix(2, 0).UTC(), Action: rule.ActionBlock, Blocked: true},
		{ID: "e-1", Timestamp: time.Unix(1, 0).UTC(), Action: rule.ActionModify,
			Message: &message.Message{
				Action: optional.Of("VIEW"),
				Extras: map[string]message.TypedValue{"id": message.Long(9007199254740993)},
			}},
	}

	var buf bytes.Buffer
	if err := WriteJSONLines(&buf, entries); err != nil {
		t.Fatalf("WriteJSONLines() error: %v", err)
	}

	var got []Entry
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		got = append(got, e)
	}
	if len(got) != 2 || got[0].ID != "e-2" || got[1].ID != "e-1" {
		t.Fatalf("lines = %+v, want input order [e-2 e-1]", got)
	}
	if v := got[1].Message.Extras["id"]; !v.Equal(message.Long(9007199254740993)) {
		t.Errorf("LONG extra = %s after round trip", v)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteJSONLines_WriterError(t *testing.T) {
	t.Parallel()

	if err := WriteJSONLines(failingWriter{}, []Entry{{ID: "x"}}); err == nil {
		t.Error("expected writer error")
	}
	if err := WriteJSONLines(failingWriter{}, nil); err != nil {
		t.Errorf("empty slice error = %v", err)
	}
}
