package consumers

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/groblegark/workset/internal/model"
)

type captureRegistrar struct {
	patterns []string
}

func (r *captureRegistrar) Bind(pattern string) string {
	r.patterns = append(r.patterns, pattern)
	return "bn-" + pattern
}

func TestAuditBindsEverything(t *testing.T) {
	a := NewAudit(slog.Default())
	r := &captureRegistrar{}
	a.RegisterTopics(r)
	if len(r.patterns) != 1 || r.patterns[0] != "#" {
		t.Errorf("patterns = %v, want [#]", r.patterns)
	}
}

func TestAuditLogsDelivery(t *testing.T) {
	var buf bytes.Buffer
	a := NewAudit(slog.New(slog.NewTextHandler(&buf, nil)))

	err := a.ConsumeEvents(context.Background(), &model.EventRecord{
		ID:       "ev-1",
		Topic:    "order.created",
		TenantID: "tn-1",
	}, []string{"bn-1"})
	if err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"ev-1", "order.created", "tn-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
