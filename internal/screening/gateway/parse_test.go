package gateway

import (
	"errors"
	"testing"

	"jobsieve/internal/core/domain"
)

func TestParseReply_PlainJSON(t *testing.T) {
	reply, err := parseReply(`{"score": 0.72, "acceptable": true, "reasoning": "good fit", "tags": ["go", "sql"]}`)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if reply.Score != 0.72 {
		t.Errorf("Score = %v, want 0.72", reply.Score)
	}
	if reply.Acceptable == nil || !*reply.Acceptable {
		t.Error("Acceptable should be true")
	}
	if len(reply.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", reply.Tags)
	}
}

func TestParseReply_MarkdownFence(t *testing.T) {
	raw := "Here is my assessment:\n```json\n{\"score\": 0.3, \"reasoning\": \"weak match\"}\n```\nLet me know if you need more."
	reply, err := parseReply(raw)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if reply.Score != 0.3 {
		t.Errorf("Score = %v, want 0.3", reply.Score)
	}
	if reply.Acceptable != nil {
		t.Error("Acceptable should stay unset when the model omits it")
	}
}

func TestParseReply_ProseAroundObject(t *testing.T) {
	raw := `Sure! The posting scores as follows: {"score": 0.9, "acceptable": true, "reasoning": "strong", "tags": []} — happy to elaborate.`
	reply, err := parseReply(raw)
	if err != nil {
		t.Fatalf("parseReply: %v", err)
	}
	if reply.Score != 0.9 {
		t.Errorf("Score = %v, want 0.9", reply.Score)
	}
}

func TestParseReply_NoJSON(t *testing.T) {
	_, err := parseReply("I could not assess this posting, sorry.")
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *domain.ParseError, got %T: %v", err, err)
	}
}

func TestParseReply_MalformedJSON(t *testing.T) {
	_, err := parseReply(`{"score": 0.5, "reasoning": `)
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *domain.ParseError, got %T: %v", err, err)
	}
}

func TestParseReply_ScoreOutOfRange(t *testing.T) {
	for _, raw := range []string{
		`{"score": 1.5, "reasoning": "x"}`,
		`{"score": -0.1, "reasoning": "x"}`,
	} {
		_, err := parseReply(raw)
		var perr *domain.ParseError
		if !errors.As(err, &perr) {
			t.Errorf("parseReply(%q): expected *domain.ParseError, got %v", raw, err)
		}
	}
}
