package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"thesis-backend/internal/bootstrap"
	"thesis-backend/internal/plan"
	"thesis-backend/internal/runs"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

func newService(t *testing.T) *runs.Service {
	t.Helper()
	prev := telemetry.SetOutput(io.Discard)
	t.Cleanup(func() { telemetry.SetOutput(prev) })
	app, err := bootstrap.Build(config.Config{
		Env:              "dev",
		LocalStoreDir:    t.TempDir(),
		ObjectStoreType:  "local",
		CheckpointStore:  "object",
		LLMProvider:      "mock",
		RetrievalBackend: "none",
		MaxDriveSteps:    100,
	})
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	app.Runs.AutoAdvance = false
	return app.Runs
}

func TestRunLoopAutoApprovesWithOneModification(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	p, err := plan.Parse([]byte(`
title: Mémoire
sections:
  - id: "1"
    title: Introduction
  - id: "2"
    title: Conclusion
`))
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	st, err := svc.Create(ctx, runs.CreateRequest{RunID: "local-1", Sections: p.Sections})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var out bytes.Buffer
	final, err := runLoop(ctx, svc, st.RunID, autoDecider(map[string]string{"2": "Plus court"}), &out)
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if !final.Completed || final.Document == nil {
		t.Fatalf("expected compiled run, got completed=%v", final.Completed)
	}
	log := out.String()
	if strings.Count(log, "section 2:") != 2 || !strings.Contains(log, "section 2: modify") {
		t.Fatalf("expected one modification then approval for section 2:\n%s", log)
	}
}

func TestPromptDecider(t *testing.T) {
	view := runs.ReviewView{Interrupt: &thesis.InterruptPayload{SectionID: "3", Title: "Analyse", DraftContent: "texte"}}
	tests := []struct {
		name     string
		input    string
		action   thesis.ReviewAction
		feedback string
	}{
		{name: "approve", input: "a\n", action: thesis.ActionApprove},
		{name: "approve without trailing newline", input: "approve", action: thesis.ActionApprove},
		{name: "empty line asks again", input: "\na\n", action: thesis.ActionApprove},
		{name: "unknown answer asks again", input: "reject\nm\nAjouter un exemple\n", action: thesis.ActionModify, feedback: "Ajouter un exemple"},
		{name: "modify", input: "m\nAjouter un exemple\n", action: thesis.ActionModify, feedback: "Ajouter un exemple"},
		{name: "empty feedback asks again", input: "m\n\nCiter le journal\n", action: thesis.ActionModify, feedback: "Citer le journal"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			resp, err := promptDecider(bufio.NewReader(strings.NewReader(tt.input)), &out)(view)
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if resp.Action != tt.action || resp.SectionID != "3" {
				t.Fatalf("unexpected response %+v", resp)
			}
			if tt.feedback != "" && (resp.FeedbackText == nil || *resp.FeedbackText != tt.feedback) {
				t.Fatalf("unexpected feedback %v", resp.FeedbackText)
			}
			if !strings.Contains(out.String(), "Analyse") {
				t.Fatalf("draft not shown: %q", out.String())
			}
		})
	}
}

func TestPromptDeciderNeverApprovesByDefault(t *testing.T) {
	view := runs.ReviewView{Interrupt: &thesis.InterruptPayload{SectionID: "3", Title: "Analyse", DraftContent: "texte"}}
	tests := []struct {
		name  string
		input string
	}{
		{name: "closed stdin", input: ""},
		{name: "blank lines then eof", input: "\n\n"},
		{name: "typo then eof", input: "x\n"},
		{name: "reject then eof", input: "reject\n"},
		{name: "modify without feedback", input: "m\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			resp, err := promptDecider(bufio.NewReader(strings.NewReader(tt.input)), &out)(view)
			if !errors.Is(err, errNoDecision) {
				t.Fatalf("expected errNoDecision, got %+v err=%v", resp, err)
			}
		})
	}
}

func TestParseModifications(t *testing.T) {
	got := parseModifications(" 1=Plus de détails ; 2 = ; =x; 3=Citer le journal")
	if len(got) != 2 || got["1"] != "Plus de détails" || got["3"] != "Citer le journal" {
		t.Fatalf("unexpected modifications %v", got)
	}
}
