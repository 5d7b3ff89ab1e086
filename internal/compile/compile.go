// Package compile assembles settled sections into the final document.
package compile

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/shared/storage/object"
	"thesis-backend/internal/shared/telemetry"
	"thesis-backend/internal/shared/util"
	"thesis-backend/internal/thesis"
)

const (
	markdownName = "thesis.md"
	htmlName     = "thesis.html"
	maxHeading   = 6
)

// MarkdownCompiler writes the document as Markdown and HTML to an object store.
type MarkdownCompiler struct {
	Store object.ObjectStore
	Title string

	md  goldmark.Markdown
	now func() time.Time
}

// NewMarkdownCompiler constructs a compiler. title heads the document when set.
func NewMarkdownCompiler(store object.ObjectStore, title string) *MarkdownCompiler {
	return &MarkdownCompiler{
		Store: store,
		Title: title,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Compile renders the outline in order and stores documents/<run_id>/thesis.{md,html}.
func (c *MarkdownCompiler) Compile(ctx context.Context, state thesis.State) (thesis.DocumentRef, error) {
	if c.Store == nil {
		return thesis.DocumentRef{}, fmt.Errorf("compile: object store is nil")
	}
	runSeg, err := util.SafeSegment(state.RunID)
	if err != nil {
		return thesis.DocumentRef{}, fmt.Errorf("compile: %w", err)
	}

	md, approved := RenderMarkdown(c.Title, state.Outline)
	var body bytes.Buffer
	if err := c.md.Convert([]byte(md), &body); err != nil {
		return thesis.DocumentRef{}, fmt.Errorf("compile: render html: %w", err)
	}
	page := wrapHTML(c.documentTitle(), body.String())

	prefix := "documents/" + runSeg + "/"
	ref := thesis.DocumentRef{
		MarkdownKey: prefix + markdownName,
		HTMLKey:     prefix + htmlName,
		Sections:    len(state.Outline),
		Approved:    approved,
		CompiledAt:  c.now(),
	}
	if _, err := c.Store.Put(ctx, ref.MarkdownKey, "text/markdown; charset=utf-8", strings.NewReader(md)); err != nil {
		return thesis.DocumentRef{}, fmt.Errorf("compile: store markdown: %w", err)
	}
	if _, err := c.Store.Put(ctx, ref.HTMLKey, "text/html; charset=utf-8", strings.NewReader(page)); err != nil {
		return thesis.DocumentRef{}, fmt.Errorf("compile: store html: %w", err)
	}

	telemetry.Info("compile.document", map[string]any{
		"run_id":   state.RunID,
		"sections": ref.Sections,
		"approved": ref.Approved,
		"key":      ref.MarkdownKey,
	})
	return ref, nil
}

func (c *MarkdownCompiler) documentTitle() string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	return "Mémoire"
}

// RenderMarkdown assembles the outline. Approved sections are copied verbatim;
// failed or skipped ones get a visible placeholder. It also returns the approved count.
func RenderMarkdown(title string, outline []thesis.Section) (string, int) {
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString("# ")
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	offset := 0
	if strings.TrimSpace(title) != "" {
		offset = 1
	}

	approved := 0
	for _, s := range outline {
		b.WriteString(heading(s, offset))
		b.WriteString("\n\n")
		switch {
		case s.Status == thesis.StatusApproved && s.FinalContent != nil:
			approved++
			b.WriteString(strings.TrimSpace(*s.FinalContent))
		case s.Status == thesis.StatusSkipped:
			b.WriteString("> _Section ignorée à la demande de l'auteur._")
		case s.Status == thesis.StatusError:
			b.WriteString("> _Section non rédigée suite à une erreur")
			if n := len(s.ErrorDetails); n > 0 {
				b.WriteString(" : ")
				b.WriteString(oneLine(s.ErrorDetails[n-1]))
			}
			b.WriteString("._")
		default:
			b.WriteString("> _Section non validée._")
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n", approved
}

func heading(s thesis.Section, offset int) string {
	level := s.Level
	if level < 1 {
		level = 1
	}
	level += offset
	if level > maxHeading {
		level = maxHeading
	}
	label := strings.TrimSpace(s.Title)
	if id := strings.TrimSpace(s.ID); id != "" {
		label = id + " " + label
	}
	return strings.Repeat("#", level) + " " + label
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func wrapHTML(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"fr\">\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title>\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

var _ orchestrator.Compiler = (*MarkdownCompiler)(nil)
