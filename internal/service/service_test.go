package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/generator"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/ingestion"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/rag"
	"github.com/Touseeq99/METAMEDAI-RAG-BACKEND/internal/store"
)

// fakeRetriever returns scripted documents and records how it was called.
type fakeRetriever struct {
	docs       []rag.Document
	ns         string
	lastQuery  string
	lastParams rag.Params
	nsChanges  []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, p rag.Params) []rag.Document {
	f.lastQuery = query
	f.lastParams = p
	return f.docs
}

func (f *fakeRetriever) SetNamespace(namespace string) {
	f.ns = namespace
	f.nsChanges = append(f.nsChanges, namespace)
}

func (f *fakeRetriever) Namespace() string { return f.ns }

// fakeVS records index-level operations.
type fakeVS struct {
	upsertNS  []string
	deleted   []string
	deleteErr error
	stats     rag.Stats
}

func (f *fakeVS) Upsert(_ context.Context, _ []rag.Document, _ [][]float32, _ []rag.SparseVector, namespace string) error {
	f.upsertNS = append(f.upsertNS, namespace)
	return nil
}

func (f *fakeVS) Search(context.Context, []float32, string, int, bool) ([]rag.Document, error) {
	return nil, nil
}

func (f *fakeVS) SearchSparse(context.Context, rag.SparseVector, string, int) ([]rag.Document, error) {
	return nil, nil
}

func (f *fakeVS) DeleteNamespace(_ context.Context, namespace string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, namespace)
	return nil
}

func (f *fakeVS) Count(context.Context, string) (uint64, error) { return 0, nil }
func (f *fakeVS) Stats(context.Context) (rag.Stats, error)      { return f.stats, nil }
func (f *fakeVS) HybridCapable() bool                           { return false }
func (f *fakeVS) Close() error                                  { return nil }

// fakeModel answers with a fixed string and records prompts.
type fakeModel struct {
	answer  string
	fail    bool
	calls   int
	prompts []string
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	if len(input) > 0 {
		f.prompts = append(f.prompts, input[0].Content)
	}
	if f.fail {
		return nil, fmt.Errorf("model unavailable")
	}
	return schema.AssistantMessage(f.answer, nil), nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestService(t *testing.T, ret *fakeRetriever, vs *fakeVS, chat *fakeModel, ledger *store.Ledger) *RAG {
	t.Helper()

	gen, err := generator.New(chat, nil, &generator.Config{Timeout: time.Second, MaxRetries: 1}, nil)
	if err != nil {
		t.Fatalf("generator.New: %v", err)
	}
	pipe, err := ingestion.NewPipeline(fixedEmbedder{}, vs, nil, nil, nil)
	if err != nil {
		t.Fatalf("ingestion.NewPipeline: %v", err)
	}
	svc, err := New(ret, gen, pipe, vs, ledger, nil)
	if err != nil {
		t.Fatalf("service.New: %v", err)
	}
	return svc
}

func memoryLedger(t *testing.T) *store.Ledger {
	t.Helper()
	l, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func f32(v float32) *float32 { return &v }

// TestQuery_NoContextReturnsWarning verifies that an empty retrieval short-
// circuits into a warning with a canned answer and never calls the model.
func TestQuery_NoContextReturnsWarning(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{ns: "default"}
	chat := &fakeModel{answer: "should not be used"}
	svc := newTestService(t, ret, &fakeVS{}, chat, nil)

	result := svc.Query(context.Background(), "What causes anemia?", QueryParams{})

	if result.Status != generator.StatusWarning {
		t.Fatalf("expected warning, got %s", result.Status)
	}
	if result.Answer != noAnswerMessage {
		t.Errorf("expected the canned answer, got %q", result.Answer)
	}
	if result.RetrievedCount != 0 {
		t.Errorf("expected RetrievedCount 0, got %d", result.RetrievedCount)
	}
	if chat.calls != 0 {
		t.Errorf("model must not be invoked on empty retrieval, got %d calls", chat.calls)
	}
}

// TestQuery_SuccessDecoratesResult verifies the decorated fields on a
// successful query and the default alpha.
func TestQuery_SuccessDecoratesResult(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{
		ns: "cardiology",
		docs: []rag.Document{
			{Content: "The SA node sets the heart rate."},
			{Content: "The AV node delays conduction."},
		},
	}
	chat := &fakeModel{answer: "The SA node is the pacemaker."}
	svc := newTestService(t, ret, &fakeVS{}, chat, nil)

	result := svc.Query(context.Background(), "What sets the heart rate?", QueryParams{})

	if result.Status != generator.StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Status, result.Message)
	}
	if result.Question != "What sets the heart rate?" {
		t.Errorf("question not echoed: %q", result.Question)
	}
	if result.Namespace != "cardiology" {
		t.Errorf("expected active namespace, got %q", result.Namespace)
	}
	if result.RetrievedCount != 2 {
		t.Errorf("expected RetrievedCount 2, got %d", result.RetrievedCount)
	}
	if result.Alpha != DefaultAlpha {
		t.Errorf("expected default alpha %v, got %v", DefaultAlpha, result.Alpha)
	}
	if ret.lastParams.Alpha != DefaultAlpha {
		t.Errorf("retriever saw alpha %v, want %v", ret.lastParams.Alpha, DefaultAlpha)
	}
}

// TestQuery_ExplicitParams verifies that explicit alpha, topK, and namespace
// reach the retriever and that the namespace switch sticks.
func TestQuery_ExplicitParams(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{ns: "default", docs: []rag.Document{{Content: "c"}}}
	svc := newTestService(t, ret, &fakeVS{}, &fakeModel{answer: "ok"}, nil)

	result := svc.Query(context.Background(), "q", QueryParams{
		Namespace: "pharmacology",
		TopK:      3,
		Alpha:     f32(0.2),
	})

	if result.Namespace != "pharmacology" {
		t.Errorf("expected namespace %q, got %q", "pharmacology", result.Namespace)
	}
	if len(ret.nsChanges) != 1 || ret.nsChanges[0] != "pharmacology" {
		t.Errorf("expected one namespace switch, got %v", ret.nsChanges)
	}
	if ret.lastParams.TopK != 3 {
		t.Errorf("retriever saw TopK %d, want 3", ret.lastParams.TopK)
	}
	if ret.lastParams.Alpha != 0.2 {
		t.Errorf("retriever saw alpha %v, want 0.2", ret.lastParams.Alpha)
	}
	if result.Alpha != 0.2 {
		t.Errorf("result alpha %v, want 0.2", result.Alpha)
	}
}

// TestQuery_ExplicitZeroAlpha verifies that alpha 0.0 (pure sparse) is
// distinguishable from "unset" and is not replaced by the default.
func TestQuery_ExplicitZeroAlpha(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{ns: "default", docs: []rag.Document{{Content: "c"}}}
	svc := newTestService(t, ret, &fakeVS{}, &fakeModel{answer: "ok"}, nil)

	result := svc.Query(context.Background(), "q", QueryParams{Alpha: f32(0)})

	if ret.lastParams.Alpha != 0 {
		t.Errorf("retriever saw alpha %v, want explicit 0", ret.lastParams.Alpha)
	}
	if result.Alpha != 0 {
		t.Errorf("result alpha %v, want 0", result.Alpha)
	}
}

// TestQuery_WithSources verifies that the sources flag reaches the generator
// and citation records come back.
func TestQuery_WithSources(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{
		ns:   "default",
		docs: []rag.Document{{Content: "chunk", Metadata: map[string]string{"file_name": "n.md"}}},
	}
	svc := newTestService(t, ret, &fakeVS{}, &fakeModel{answer: "ok"}, nil)

	result := svc.Query(context.Background(), "q", QueryParams{WithSources: true})

	if len(result.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(result.Sources))
	}
	if result.Sources[0].Metadata["file_name"] != "n.md" {
		t.Error("source metadata missing")
	}
}

// TestGenerateOnly_WrapsContextText verifies that the supplied context text is
// bounded and composed like a retrieved chunk.
func TestGenerateOnly_WrapsContextText(t *testing.T) {
	t.Parallel()

	chat := &fakeModel{answer: "ok"}
	svc := newTestService(t, &fakeRetriever{ns: "default"}, &fakeVS{}, chat, nil)

	result := svc.GenerateOnly(context.Background(), "What is insulin?", "Insulin lowers blood glucose.", "")

	if result.Status != generator.StatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if result.ContextUsed != 1 {
		t.Errorf("expected ContextUsed 1, got %d", result.ContextUsed)
	}
	if !strings.Contains(chat.prompts[0], "Insulin lowers blood glucose.") {
		t.Error("context text missing from prompt")
	}
}

// TestGenerateOnly_EmptyContextStillGenerates verifies that, unlike Query,
// empty context is passed through to the model.
func TestGenerateOnly_EmptyContextStillGenerates(t *testing.T) {
	t.Parallel()

	chat := &fakeModel{answer: "I don't have enough information in the provided context to answer that."}
	svc := newTestService(t, &fakeRetriever{ns: "default"}, &fakeVS{}, chat, nil)

	result := svc.GenerateOnly(context.Background(), "q", "", "")

	if chat.calls != 1 {
		t.Fatalf("expected the model to be invoked, got %d calls", chat.calls)
	}
	if result.Status != generator.StatusSuccess {
		t.Errorf("expected success, got %s", result.Status)
	}
	if result.ContextUsed != 0 {
		t.Errorf("expected ContextUsed 0, got %d", result.ContextUsed)
	}
}

// TestIngestText_DefaultsToActiveNamespace verifies that an empty namespace
// resolves to the retriever's active one before ingest.
func TestIngestText_DefaultsToActiveNamespace(t *testing.T) {
	t.Parallel()

	vs := &fakeVS{}
	svc := newTestService(t, &fakeRetriever{ns: "histology"}, vs, &fakeModel{answer: "ok"}, nil)

	n, err := svc.IngestText(context.Background(), "Epithelium lines body surfaces.", nil, "")
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 chunk, got %d", n)
	}
	if len(vs.upsertNS) != 1 || vs.upsertNS[0] != "histology" {
		t.Errorf("expected upsert under %q, got %v", "histology", vs.upsertNS)
	}
}

// TestChangeNamespace verifies the active-namespace round trip.
func TestChangeNamespace(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{ns: "default"}
	svc := newTestService(t, ret, &fakeVS{}, &fakeModel{}, nil)

	svc.ChangeNamespace("neurology")
	if svc.ActiveNamespace() != "neurology" {
		t.Errorf("ActiveNamespace = %q, want %q", svc.ActiveNamespace(), "neurology")
	}
}

// TestDeleteNamespace verifies the index delete plus ledger cleanup, and that
// the empty namespace is rejected.
func TestDeleteNamespace(t *testing.T) {
	t.Parallel()

	ledger := memoryLedger(t)
	if err := ledger.Record(context.Background(), "old", "notes.txt", 3); err != nil {
		t.Fatalf("Record: %v", err)
	}

	vs := &fakeVS{}
	svc := newTestService(t, &fakeRetriever{ns: "default"}, vs, &fakeModel{}, ledger)

	if err := svc.DeleteNamespace(context.Background(), "old"); err != nil {
		t.Fatalf("DeleteNamespace: %v", err)
	}
	if len(vs.deleted) != 1 || vs.deleted[0] != "old" {
		t.Errorf("expected index delete for %q, got %v", "old", vs.deleted)
	}
	counts, err := ledger.Namespaces(context.Background())
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected ledger rows forgotten, got %v", counts)
	}

	if err := svc.DeleteNamespace(context.Background(), ""); err == nil {
		t.Error("expected error for empty namespace")
	}
}

// TestDeleteNamespace_IndexFailure verifies that an index delete failure is
// surfaced and leaves the ledger untouched.
func TestDeleteNamespace_IndexFailure(t *testing.T) {
	t.Parallel()

	ledger := memoryLedger(t)
	if err := ledger.Record(context.Background(), "keep", "a.txt", 1); err != nil {
		t.Fatalf("Record: %v", err)
	}

	vs := &fakeVS{deleteErr: fmt.Errorf("index offline")}
	svc := newTestService(t, &fakeRetriever{ns: "default"}, vs, &fakeModel{}, ledger)

	if err := svc.DeleteNamespace(context.Background(), "keep"); err == nil {
		t.Fatal("expected delete error")
	}
	counts, err := ledger.Namespaces(context.Background())
	if err != nil {
		t.Fatalf("Namespaces: %v", err)
	}
	if len(counts) != 1 {
		t.Errorf("ledger should be untouched after a failed index delete, got %v", counts)
	}
}

// TestStats verifies the combined index and ledger view, including the
// nil-ledger partial result.
func TestStats(t *testing.T) {
	t.Parallel()

	ledger := memoryLedger(t)
	ctx := context.Background()
	if err := ledger.Record(ctx, "anatomy", "skeleton.md", 4); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := ledger.Record(ctx, "anatomy", "muscles.md", 2); err != nil {
		t.Fatalf("Record: %v", err)
	}

	vs := &fakeVS{stats: rag.Stats{Collection: "medrag-docs", Points: 6, Dimension: 1536}}
	svc := newTestService(t, &fakeRetriever{ns: "anatomy"}, vs, &fakeModel{}, ledger)

	got, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got.Index.Collection != "medrag-docs" || got.Index.Points != 6 {
		t.Errorf("unexpected index stats: %+v", got.Index)
	}
	if got.ActiveNamespace != "anatomy" {
		t.Errorf("ActiveNamespace = %q, want %q", got.ActiveNamespace, "anatomy")
	}
	if len(got.Namespaces) != 1 || got.Namespaces[0].Chunks != 6 {
		t.Errorf("unexpected namespace counts: %v", got.Namespaces)
	}
	if len(got.RecentIngests) != 2 || got.RecentIngests[0].Source != "muscles.md" {
		t.Errorf("expected newest-first recent ingests, got %v", got.RecentIngests)
	}

	// Nil ledger degrades to index-only stats.
	bare := newTestService(t, &fakeRetriever{ns: "anatomy"}, vs, &fakeModel{}, nil)
	partial, err := bare.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats without ledger: %v", err)
	}
	if partial.Namespaces != nil || partial.RecentIngests != nil {
		t.Error("expected no ledger sections without a ledger")
	}
}

// TestNew_RequiresDependencies verifies the constructor's nil checks.
func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	gen, _ := generator.New(&fakeModel{}, nil, nil, nil)
	pipe, _ := ingestion.NewPipeline(fixedEmbedder{}, &fakeVS{}, nil, nil, nil)
	ret := &fakeRetriever{ns: "default"}
	vs := &fakeVS{}

	cases := []struct {
		name string
		err  error
	}{
		{"nil retriever", func() error { _, err := New(nil, gen, pipe, vs, nil, nil); return err }()},
		{"nil generator", func() error { _, err := New(ret, nil, pipe, vs, nil, nil); return err }()},
		{"nil pipeline", func() error { _, err := New(ret, gen, nil, vs, nil, nil); return err }()},
		{"nil store", func() error { _, err := New(ret, gen, pipe, nil, nil, nil); return err }()},
	}
	for _, tc := range cases {
		if tc.err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
