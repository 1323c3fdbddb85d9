// Package retrieval answers natural-language questions about the
// project by combining two evidence tiers: "fresh" live records not yet
// reflected in the vector index (recently changed context entries and
// keyword-matched tasks) and k-nearest-neighbor hits from the vector
// table. The assembled context is sent to the external completion
// capability and its answer returned verbatim.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/wrangler/internal/config"
	"github.com/HendryAvila/wrangler/internal/provider"
	"github.com/HendryAvila/wrangler/internal/store"
)

// NoEvidenceAnswer is returned when neither tier yields anything, so we
// never burn a completion call on an empty context.
const NoEvidenceAnswer = "no relevant information found in the project knowledge base"

const systemPrompt = "You are the project knowledge assistant for a multi-agent " +
	"software team. Answer the question using only the provided context. " +
	"If the context does not contain the answer, say so."

// Service performs hybrid ask queries.
type Service struct {
	st  *store.Store
	emb provider.Embedder
	cmp provider.Completer
	cfg config.AskConfig
}

// Answer is the result of one ask query.
type Answer struct {
	Text        string `json:"text"`
	FreshUsed   int    `json:"fresh_used"`
	VectorUsed  int    `json:"vector_used"`
	Truncated   bool   `json:"truncated"`
	VectorReady bool   `json:"vector_ready"`
}

// New creates a retrieval service.
func New(st *store.Store, emb provider.Embedder, cmp provider.Completer, cfg config.AskConfig) *Service {
	return &Service{st: st, emb: emb, cmp: cmp, cfg: cfg}
}

// Ask runs the full hybrid pipeline for one query.
func (s *Service) Ask(ctx context.Context, query string) (Answer, error) {
	var ans Answer
	ans.VectorReady = s.st.VectorReady()

	fresh, err := s.freshEvidence(query)
	if err != nil {
		return ans, err
	}

	var hits []store.ChunkHit
	if ans.VectorReady {
		hits, err = s.vectorEvidence(ctx, query)
		if err != nil {
			// Vector-tier failure degrades to fresh-only rather than
			// failing the whole query.
			hits = nil
		}
	}

	if len(fresh) == 0 && len(hits) == 0 {
		ans.Text = NoEvidenceAnswer
		return ans, nil
	}

	contextText, freshUsed, vectorUsed, truncated := s.assemble(fresh, hits)
	ans.FreshUsed = freshUsed
	ans.VectorUsed = vectorUsed
	ans.Truncated = truncated

	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)
	text, err := s.cmp.Complete(ctx, systemPrompt, user)
	if err != nil {
		return ans, fmt.Errorf("retrieval: completion: %w", err)
	}
	ans.Text = text
	return ans, nil
}

// ─── Evidence tiers ──────────────────────────────────────────────────────────

type evidence struct {
	label string
	text  string
}

// freshEvidence collects live records the vector index may not have
// caught up with yet: context entries changed since the last context
// scan, and tasks whose title/description match the query words.
func (s *Service) freshEvidence(query string) ([]evidence, error) {
	var out []evidence

	since, err := s.st.MetaGet(store.LastScanKey(store.SourceContext))
	if err != nil {
		return nil, fmt.Errorf("retrieval: last scan: %w", err)
	}
	entries, err := s.st.RecentContextEntries(since, s.cfg.FreshLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: recent context: %w", err)
	}
	for _, e := range entries {
		out = append(out, evidence{
			label: "context:" + e.Key,
			text:  e.Value,
		})
	}

	words := tokenize(query)
	if len(words) > 0 {
		tasks, err := s.st.SearchTasksKeyword(words, s.cfg.FreshLimit)
		if err != nil {
			return nil, fmt.Errorf("retrieval: task search: %w", err)
		}
		for _, t := range tasks {
			out = append(out, evidence{
				label: fmt.Sprintf("task:#%d", t.ID),
				text: fmt.Sprintf("[%s, %s priority, assigned to %s] %s — %s",
					t.Status, t.Priority, derefOr(t.AssignedTo, "nobody"), t.Title, t.Description),
			})
		}
	}
	return out, nil
}

// vectorEvidence embeds the query and runs KNN against the vector table.
func (s *Service) vectorEvidence(ctx context.Context, query string) ([]store.ChunkHit, error) {
	vectors, err := s.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("retrieval: expected 1 query vector, got %d", len(vectors))
	}

	hits, err := s.st.NearestChunks(vectors[0], s.cfg.KNearest)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}
	return hits, nil
}

// ─── Context assembly ────────────────────────────────────────────────────────

// assemble builds the bounded context window: fresh evidence first,
// then vector hits in ascending distance order, stopping at the token
// budget. A piece that overflows the remaining budget is truncated and
// the truncation flagged.
func (s *Service) assemble(fresh []evidence, hits []store.ChunkHit) (text string, freshUsed, vectorUsed int, truncated bool) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	var b strings.Builder
	budget := s.cfg.TokenBudget

	write := func(label, body string) bool {
		piece := fmt.Sprintf("--- %s ---\n%s\n\n", label, body)
		cost := approxTokens(piece)
		if cost > budget {
			// Partial inclusion: keep whatever still fits.
			keep := budget * 4
			if keep < len(label)+32 {
				truncated = true
				return false
			}
			runes := []rune(piece)
			if keep < len(runes) {
				piece = string(runes[:keep]) + "\n[truncated]\n\n"
			}
			b.WriteString(piece)
			budget = 0
			truncated = true
			return true
		}
		b.WriteString(piece)
		budget -= cost
		return true
	}

	for _, e := range fresh {
		if budget <= 0 {
			truncated = true
			break
		}
		if write(e.label, e.text) {
			freshUsed++
		}
	}
	for _, h := range hits {
		if budget <= 0 {
			if len(hits) > vectorUsed {
				truncated = true
			}
			break
		}
		label := fmt.Sprintf("%s:%s (distance %.3f)", h.SourceType, h.SourceRef, h.Distance)
		if write(label, h.Content) {
			vectorUsed++
		}
	}

	return b.String(), freshUsed, vectorUsed, truncated
}

// approxTokens estimates token usage at ~4 characters per token.
func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// tokenize lowercases the query and splits it into distinct words of
// at least three characters, dropping common stopwords.
func tokenize(query string) []string {
	stop := map[string]bool{
		"the": true, "and": true, "for": true, "are": true, "was": true,
		"what": true, "which": true, "that": true, "this": true, "with": true,
		"how": true, "who": true, "does": true, "have": true, "has": true,
	}

	seen := map[string]bool{}
	var words []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) < 3 || stop[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

func derefOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}
