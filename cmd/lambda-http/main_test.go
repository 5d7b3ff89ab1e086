package main

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"thesis-backend/internal/bootstrap"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/server/middleware"
	"thesis-backend/internal/shared/telemetry"
)

func apiRequest(method, path, body string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		Headers: map[string]string{middleware.ReviewerHeader: "tutor"},
	}
	req.RequestContext.DomainName = "thesis.execute-api.local"
	req.RequestContext.HTTP.Method = method
	req.RequestContext.HTTP.Path = path
	if body != "" {
		req.Headers["Content-Type"] = "application/json"
	}
	return req
}

func TestInvokerFinishesDrivesBeforeReturning(t *testing.T) {
	prev := telemetry.SetOutput(io.Discard)
	defer telemetry.SetOutput(prev)

	app, err := bootstrap.Build(config.Config{
		Env:              "dev",
		LocalStoreDir:    t.TempDir(),
		ObjectStoreType:  "local",
		CheckpointStore:  "memory",
		LLMProvider:      "mock",
		RetrievalBackend: "none",
		MaxDriveSteps:    50,
	})
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	inv := newRunInvoker(app)
	ctx := context.Background()

	resp, err := inv.handle(ctx, apiRequest(http.MethodPost, "/api/v1/runs",
		`{"runId":"lambda","autoAdvance":true,"sections":[{"id":"1","title":"Introduction"}]}`))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %v %s", resp.StatusCode, err, resp.Body)
	}

	// No Wait here: the invocation itself must have driven the run to review.
	st, err := app.Runs.Get(ctx, "lambda")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Interrupt == nil || st.Interrupt.SectionID != "1" {
		t.Fatalf("expected run suspended for review after create, got next=%s", st.NextStep)
	}

	resp, err = inv.handle(ctx, apiRequest(http.MethodPost, "/api/v1/runs/lambda/review", `{"sectionId":"1","action":"approve"}`))
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: %d %v %s", resp.StatusCode, err, resp.Body)
	}
	st, err = app.Runs.Get(ctx, "lambda")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !st.Completed {
		t.Fatalf("expected run completed within the review invocation, got phase %s", st.Phase())
	}
}
