package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRenderAuditHTML(t *testing.T) {
	created := time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC)
	data := TemplateData{
		ReleaseName:   "Q2 Launch",
		NamespaceID:   "ns-1",
		ApprovalMode:  "all",
		ApprovalState: "approved",
		Closed:        true,
		EntryCount:    2,
		Entries: []TemplateEntry{
			{
				EntityType: "release",
				EntityID:   "rel-1",
				Action:     "create",
				Actor:      "user-1",
				CreatedAt:  created,
			},
			{
				EntityType: "approver",
				EntityID:   "user-2",
				Action:     "update",
				Actor:      "user-2",
				CreatedAt:  created.Add(time.Hour),
				Changes:    []string{"releaseApprovalState", "state"},
			},
		},
	}

	html, err := RenderAuditHTML(data)
	if err != nil {
		t.Fatalf("RenderAuditHTML: %v", err)
	}

	for _, want := range []string{
		"Q2 Launch",
		"ns-1",
		"approved",
		"closed",
		"release rel-1",
		"releaseApprovalState, state",
		"Mar 12, 2026 09:30 UTC",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderAuditHTMLEscapesContent(t *testing.T) {
	data := TemplateData{
		ReleaseName: "<script>alert(1)</script>",
		Entries: []TemplateEntry{
			{EntityType: "comment", EntityID: "c-1", Action: "create", Actor: "<b>x</b>"},
		},
	}

	html, err := RenderAuditHTML(data)
	if err != nil {
		t.Fatalf("RenderAuditHTML: %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("release name was not escaped")
	}
	if strings.Contains(html, "<b>x</b>") {
		t.Error("actor was not escaped")
	}
}

func TestChangedFields(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   []string
	}{
		{
			name:   "create lists every new key",
			before: "",
			after:  `{"id":"r-1","name":"Launch"}`,
			want:   []string{"id", "name"},
		},
		{
			name:   "update lists only differing keys",
			before: `{"id":"r-1","name":"Launch","closed":false}`,
			after:  `{"id":"r-1","name":"Launch v2","closed":true}`,
			want:   []string{"closed", "name"},
		},
		{
			name:   "delete lists every removed key",
			before: `{"id":"t-1","title":"Verify"}`,
			after:  "",
			want:   []string{"id", "title"},
		},
		{
			name:   "no change",
			before: `{"id":"r-1"}`,
			after:  `{"id":"r-1"}`,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := changedFields(json.RawMessage(tt.before), json.RawMessage(tt.after))
			if len(got) != len(tt.want) {
				t.Fatalf("changedFields = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("changedFields = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Q2 Launch", "Q2-Launch"},
		{"release/2026!", "release2026"},
		{"", "release"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.input); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("percentEncodeForDataURL = %q", got)
	}
}
