package transcript

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{
			in:   "my key is 0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d",
			want: "my key is [redacted]",
		},
		{
			in:   "seed phrase: abandon abandon abandon about",
			want: "seed phrase: [redacted]",
		},
		{
			in:   "what's the price of SOL?",
			want: "what's the price of SOL?",
		},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Fatalf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreAppendAndRecent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		err := s.Append(ctx, Entry{
			SessionID: "s1",
			Sender:    "User",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := s.Append(ctx, Entry{SessionID: "s2", Sender: "user", Content: "other session"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() len = %d, want 2", len(got))
	}
	if got[0].Content != "third" || got[1].Content != "second" {
		t.Fatalf("Recent() = [%q, %q], want newest first", got[0].Content, got[1].Content)
	}
	if got[0].Sender != "user" {
		t.Fatalf("sender = %q, want normalized", got[0].Sender)
	}
	if got[0].ID == "" {
		t.Fatalf("entry id not assigned")
	}
}

func TestMemoryStoreRedactsOnWrite(t *testing.T) {
	s := NewMemoryStore()
	err := s.Append(context.Background(), Entry{
		SessionID: "s1",
		Sender:    "user",
		Content:   "private key 0x4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Recent(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if strings.Contains(got[0].Content, "0x4f3edf") {
		t.Fatalf("stored content kept key material: %q", got[0].Content)
	}
}
