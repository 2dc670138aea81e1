// Package ledger records architectural decisions as searchable vectors in
// their own collection.
package ledger

import (
	"context"
	"encoding/binary"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nullvektordom/nexus-cli-sub000/internal/embed"
	nxerrors "github.com/nullvektordom/nexus-cli-sub000/internal/errors"
	"github.com/nullvektordom/nexus-cli-sub000/internal/store"
)

const (
	// DefaultCollection holds the decisions of every project.
	DefaultCollection = "nexus_ledger"

	// RoleDecision tags ledger points.
	RoleDecision = "architectural_decision"

	// DefaultRecallLimit is the number of decisions Recall returns by default.
	DefaultRecallLimit = 3
)

// Payload fields of a decision point.
const (
	FieldRole       = "role"
	FieldContent    = "content"
	FieldDecisionID = "decision_id"
	FieldProjectID  = "project_id"
	FieldRecordedAt = "recorded_at"
)

// Decision is one recorded decision.
type Decision struct {
	ID         string
	ProjectID  string
	Content    string
	RecordedAt time.Time
	// Score is set by Recall.
	Score float32
}

// Options configures a Ledger.
type Options struct {
	Store      store.VectorStore
	Embedder   embed.Embedder
	Collection string
	ProjectID  string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Ledger stores and recalls decisions.
type Ledger struct {
	opts Options

	mu      sync.Mutex
	ensured bool
}

// New returns a Ledger.
func New(opts Options) *Ledger {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{opts: opts}
}

// Record embeds text and stores it as a new decision.
func (l *Ledger) Record(ctx context.Context, text string) (Decision, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Decision{}, nxerrors.ValidationError("decision text must not be empty", nil)
	}
	if err := l.ensureCollection(ctx); err != nil {
		return Decision{}, err
	}

	vec, err := l.embed(ctx, text)
	if err != nil {
		return Decision{}, err
	}

	id := uuid.New()
	d := Decision{
		ID:         id.String(),
		ProjectID:  l.opts.ProjectID,
		Content:    text,
		RecordedAt: l.opts.Now().UTC().Truncate(time.Second),
	}
	payload := map[string]any{
		FieldRole:       RoleDecision,
		FieldContent:    d.Content,
		FieldDecisionID: d.ID,
		FieldRecordedAt: d.RecordedAt.Format(time.RFC3339),
	}
	if d.ProjectID != "" {
		payload[FieldProjectID] = d.ProjectID
	}

	if err := l.opts.Store.Upsert(ctx, l.opts.Collection, []store.Point{{
		ID:      pointID(id),
		Vector:  vec,
		Payload: payload,
	}}); err != nil {
		return Decision{}, err
	}

	l.opts.Logger.Info("decision_recorded",
		slog.String("decision_id", d.ID),
		slog.String("project", d.ProjectID))
	return d, nil
}

// Recall returns the decisions most similar to query, best first.
func (l *Ledger) Recall(ctx context.Context, query string, limit int) ([]Decision, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nxerrors.New(nxerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if limit <= 0 {
		limit = DefaultRecallLimit
	}
	if err := l.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := l.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := l.opts.Store.Search(ctx, l.opts.Collection, store.SearchRequest{
		Vector: vec,
		Limit:  limit,
		Filter: store.Filter{Must: []store.Match{{Key: FieldRole, Value: RoleDecision}}},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Decision, 0, len(hits))
	for _, h := range hits {
		d := Decision{
			ID:        store.PayloadString(h.Payload, FieldDecisionID),
			ProjectID: store.PayloadString(h.Payload, FieldProjectID),
			Content:   store.PayloadString(h.Payload, FieldContent),
			Score:     h.Score,
		}
		if t, err := time.Parse(time.RFC3339, store.PayloadString(h.Payload, FieldRecordedAt)); err == nil {
			d.RecordedAt = t
		}
		if d.Content == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (l *Ledger) embed(ctx context.Context, text string) ([]float32, error) {
	if l.opts.Embedder == nil {
		return nil, nxerrors.New(nxerrors.ErrCodeNotInitialized, "embeddings are unavailable", nil)
	}
	return l.opts.Embedder.Embed(ctx, text)
}

func (l *Ledger) ensureCollection(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ensured {
		return nil
	}

	exists, err := l.opts.Store.CollectionExists(ctx, l.opts.Collection)
	if err != nil {
		return err
	}
	if !exists {
		dims := embed.DefaultDimensions
		if l.opts.Embedder != nil {
			dims = l.opts.Embedder.Dimensions()
		}
		if err := l.opts.Store.CreateCollection(ctx, store.CollectionSpec{
			Name:          l.opts.Collection,
			VectorSize:    dims,
			Distance:      store.DistanceCosine,
			IndexedFields: []string{FieldRole, FieldProjectID},
		}); err != nil {
			return err
		}
	}
	l.ensured = true
	return nil
}

// pointID folds a decision uuid into a store id.
func pointID(id uuid.UUID) uint64 {
	return binary.BigEndian.Uint64(id[:8])
}
