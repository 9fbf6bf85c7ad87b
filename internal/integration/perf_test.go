package integration

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/intentgate/intentgate/internal/domain/message"
	"github.com/intentgate/intentgate/pkg/optional"
)

// perfRules builds a document with n non-matching VIEW rules followed by a
// CEL rule that matches the benchmark message.
func perfRules(n int) string {
	doc := ""
	for i := 0; i < n; i++ {
		doc += fmt.Sprintf("- id: filler-%d\n  action: android.intent.action.VIEW\n  data: \"https://site%d\\\\.example/.*\"\n  intentAction: BLOCK\n", i, i)
	}
	doc += "- id: tag-send\n  action: android.intent.action.SEND\n  condition: '\"subject\" in extras'\n  intentAction: MODIFY\n  modification:\n    extrasToAdd:\n      - key: scanned\n        value: true\n        type: BOOLEAN\n"
	return doc
}

func perfMessage() *message.Message {
	return &message.Message{
		Action:        optional.Of("android.intent.action.SEND"),
		MimeType:      optional.Of("text/plain"),
		SourcePackage: optional.Of("com.mail"),
		Extras: map[string]message.TypedValue{
			"subject": {Type: message.TypeString, Value: "hello"},
		},
	}
}

func TestInterceptLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency measurement skipped in short mode")
	}

	_, statePath, rulesPath := tempPaths(t)
	writeRules(t, rulesPath, perfRules(100))
	s := bootStack(t, stackConfig{statePath: statePath, rulesPath: rulesPath})

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		s.interception.Intercept(ctx, perfMessage())
	}

	const samples = 2000
	durations := make([]time.Duration, samples)
	for i := range durations {
		msg := perfMessage()
		start := time.Now()
		d := s.interception.Intercept(ctx, msg)
		durations[i] = time.Since(start)
		if d.RuleID != "tag-send" || !d.Modified {
			t.Fatalf("unexpected decision %+v", d)
		}
	}
	slices.Sort(durations)

	p50 := durations[samples/2]
	p99 := durations[samples*99/100]
	t.Logf("intercept latency over %d rules: p50=%s p99=%s", s.rules.Snapshot().Len(), p50, p99)
	if p50 > perfP50Threshold {
		t.Errorf("p50 = %s, want <= %s", p50, perfP50Threshold)
	}
	if p99 > perfP99Threshold {
		t.Errorf("p99 = %s, want <= %s", p99, perfP99Threshold)
	}
}

func BenchmarkIntercept(b *testing.B) {
	_, statePath, rulesPath := tempPaths(b)
	writeRules(b, rulesPath, perfRules(100))
	s := bootStack(b, stackConfig{statePath: statePath, rulesPath: rulesPath})
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.interception.Intercept(ctx, perfMessage())
	}
}
