package verifier

import "testing"

func TestParseBatchNormalization(t *testing.T) {
	prefixes := []string{"38", "7"}

	cases := []struct {
		name      string
		input     string
		wantPhone string
		dropped   bool
	}{
		{name: "plus kept", input: "+380991234567 Ivan", wantPhone: "+380991234567"},
		{name: "recognized prefix 38", input: "380991234567 Ivan", wantPhone: "+380991234567"},
		{name: "recognized prefix 7", input: "79998887766 Petr", wantPhone: "+79998887766"},
		{name: "unrecognized prefix", input: "440991234567 Jane", dropped: true},
		{name: "garbage", input: "bad-input", dropped: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := ParseBatch(tc.input, prefixes)
			if tc.dropped {
				if len(entries) != 0 {
					t.Fatalf("expected line dropped, got %v", entries)
				}
				return
			}
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			if entries[0].Phone != tc.wantPhone {
				t.Fatalf("expected %s, got %s", tc.wantPhone, entries[0].Phone)
			}
		})
	}
}

func TestParseBatchNamesAndOrder(t *testing.T) {
	text := "+380991234567 Ivan Petrov\n\nbad-input\n+447700900000 Jane Doe\n+79998887766\n"
	entries := ParseBatch(text, []string{"38", "7"})

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Name != "Ivan Petrov" {
		t.Fatalf("expected multi-word name preserved, got %q", entries[0].Name)
	}
	if entries[1].Phone != "+447700900000" {
		t.Fatalf("expected input order preserved, got %s second", entries[1].Phone)
	}
	if entries[2].Name != "Unknown" {
		t.Fatalf("expected placeholder name for bare phone, got %q", entries[2].Name)
	}
}
