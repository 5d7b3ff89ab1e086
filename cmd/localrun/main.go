package main

// Drive a dissertation plan end to end from the terminal:
//   go run ./cmd/localrun -plan plan.yaml -journal ./journal
// Approve every section without prompting (mock provider by default):
//   go run ./cmd/localrun -plan plan.yaml -auto -modify "2.1=Ajouter un exemple chiffré"

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"thesis-backend/internal/bootstrap"
	"thesis-backend/internal/plan"
	"thesis-backend/internal/runs"
	"thesis-backend/internal/shared/config"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/thesis"
)

func main() {
	cfg := config.Load()

	planPath := flag.String("plan", "", "Path to the plan file (yaml or json)")
	runID := flag.String("run", "", "Run id; resumes the run when it already exists")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider (mock or openai)")
	model := flag.String("model", cfg.LLMModel, "LLM model")
	journalDir := flag.String("journal", cfg.JournalDir, "Journal directory used for retrieval")
	outDir := flag.String("out", cfg.LocalStoreDir, "Directory for checkpoints and compiled documents")
	auto := flag.Bool("auto", false, "Approve every section without prompting")
	modify := flag.String("modify", "", "With -auto, request one modification per section: id=feedback;id=feedback")
	quiet := flag.Bool("quiet", true, "Silence structured logs")
	flag.Parse()

	if strings.TrimSpace(*planPath) == "" {
		exitErr("plan path is required")
	}
	p, err := plan.LoadFile(*planPath)
	if err != nil {
		exitErr(err.Error())
	}
	if *quiet {
		telemetry.SetOutput(io.Discard)
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(*provider))
	cfg.LLMModel = *model
	cfg.LocalStoreDir = *outDir
	cfg.ObjectStoreType = "local"
	cfg.CheckpointStore = "object"
	cfg.DatabaseURL = ""
	cfg.QueueURL = ""
	cfg.JournalDir = *journalDir
	cfg.RetrievalBackend = "journal"
	if strings.TrimSpace(*journalDir) == "" {
		cfg.RetrievalBackend = "none"
	}
	if p.Title != "" {
		cfg.DocumentTitle = p.Title
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		exitErr(fmt.Sprintf("bootstrap build: %v", err))
	}
	svc := app.Runs
	svc.AutoAdvance = false

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := startOrResume(ctx, svc, *runID, p)
	if err != nil {
		exitErr(err.Error())
	}

	decide := promptDecider(bufio.NewReader(os.Stdin), os.Stdout)
	if *auto {
		decide = autoDecider(parseModifications(*modify))
	}
	st, err := runLoop(ctx, svc, id, decide, os.Stdout)
	if err != nil {
		exitErr(err.Error())
	}
	if st.Document != nil {
		fmt.Fprintf(os.Stdout, "document: %s (%d/%d sections approved)\n", st.Document.MarkdownKey, st.Document.Approved, st.Document.Sections)
	}
}

func startOrResume(ctx context.Context, svc *runs.Service, runID string, p plan.Plan) (string, error) {
	if runID != "" {
		if st, err := svc.Get(ctx, runID); err == nil {
			fmt.Fprintf(os.Stdout, "resuming run %s at %s\n", st.RunID, st.NextStep)
			return st.RunID, nil
		}
	}
	st, err := svc.Create(ctx, runs.CreateRequest{RunID: runID, Persona: p.Persona, Sections: p.Sections})
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	fmt.Fprintf(os.Stdout, "run %s started with %d sections\n", st.RunID, len(st.Outline))
	return st.RunID, nil
}

// decider turns an open review into a reviewer decision.
type decider func(view runs.ReviewView) (thesis.HumanResponse, error)

// runLoop drives the run and answers each review until the document is compiled.
func runLoop(ctx context.Context, svc *runs.Service, runID string, decide decider, out io.Writer) (thesis.State, error) {
	for {
		res, err := svc.Drive(ctx, runID)
		if err != nil {
			return res.State, fmt.Errorf("drive: %w", err)
		}
		if res.Completed {
			fmt.Fprintf(out, "run %s completed\n", runID)
			return res.State, nil
		}
		if !res.Suspended {
			return res.State, fmt.Errorf("run %s stopped after %d steps without suspending", runID, res.Steps)
		}

		view, err := svc.PendingReview(ctx, runID)
		if err != nil {
			return res.State, err
		}
		resp, err := decide(view)
		if err != nil {
			return res.State, err
		}
		resp.Reviewer = "localrun"
		if _, err := svc.SubmitReview(ctx, runID, resp); err != nil {
			return res.State, fmt.Errorf("submit review: %w", err)
		}
		fmt.Fprintf(out, "section %s: %s\n", view.Interrupt.SectionID, resp.Action)
	}
}

func autoDecider(mods map[string]string) decider {
	used := map[string]bool{}
	return func(view runs.ReviewView) (thesis.HumanResponse, error) {
		id := view.Interrupt.SectionID
		if feedback, ok := mods[id]; ok && !used[id] {
			used[id] = true
			return thesis.HumanResponse{SectionID: id, Action: thesis.ActionModify, FeedbackText: thesis.StringPtr(feedback)}, nil
		}
		return thesis.HumanResponse{SectionID: id, Action: thesis.ActionApprove}, nil
	}
}

// errNoDecision is returned when stdin closes before a reviewer answers.
var errNoDecision = errors.New("stdin closed before a review decision")

func promptDecider(in *bufio.Reader, out io.Writer) decider {
	return func(view runs.ReviewView) (thesis.HumanResponse, error) {
		ip := view.Interrupt
		fmt.Fprintf(out, "\n=== %s %s ===\n\n%s\n\n", ip.SectionID, ip.Title, ip.DraftContent)
		if ip.Critique != nil {
			fmt.Fprintf(out, "critique: %.1f/10 %s\n", ip.Critique.Score, ip.Critique.Summary)
		}
		fmt.Fprintln(out, ip.Instructions)
		for {
			answer, err := promptLine(in, out, "[a]pprove / [m]odify: ")
			if err != nil {
				return thesis.HumanResponse{}, err
			}
			switch strings.ToLower(answer) {
			case "a", "approve":
				return thesis.HumanResponse{SectionID: ip.SectionID, Action: thesis.ActionApprove}, nil
			case "m", "modify":
				for {
					feedback, err := promptLine(in, out, "feedback: ")
					if err != nil {
						return thesis.HumanResponse{}, err
					}
					if feedback != "" {
						return thesis.HumanResponse{SectionID: ip.SectionID, Action: thesis.ActionModify, FeedbackText: thesis.StringPtr(feedback)}, nil
					}
				}
			case "":
			default:
				fmt.Fprintf(out, "unrecognized answer %q\n", answer)
			}
		}
	}
}

// promptLine reads one trimmed line. A final line without newline is still
// returned; EOF with nothing left to read is errNoDecision.
func promptLine(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if strings.TrimSpace(line) == "" {
			return "", errNoDecision
		}
	}
	return strings.TrimSpace(line), nil
}

func parseModifications(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		id, feedback, ok := strings.Cut(part, "=")
		id, feedback = strings.TrimSpace(id), strings.TrimSpace(feedback)
		if !ok || id == "" || feedback == "" {
			continue
		}
		out[id] = feedback
	}
	return out
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
