package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/sessionstore"
)

func TestEnsureIndexes(t *testing.T) {
	sessions := newFakeSessionsCollection()
	runs := newFakeRunsCollection()
	err := ensureIndexes(context.Background(), sessions, runs)
	require.NoError(t, err)
	require.Equal(t, 1, sessions.indexCreated)
	require.Equal(t, 3, runs.indexCreated)
}

func TestStoreCreateLoadEndSession(t *testing.T) {
	s := mustNewTestStore(t)
	now := time.Now().UTC()

	sess, err := s.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, "sess-1", sess.ID)
	require.Equal(t, sessionstore.StatusActive, sess.Status)
	require.True(t, sess.CreatedAt.Equal(now))

	loaded, err := s.LoadSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, sess, loaded)

	end := now.Add(time.Minute)
	ended, err := s.EndSession(context.Background(), "sess-1", end)
	require.NoError(t, err)
	require.Equal(t, sessionstore.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.True(t, ended.EndedAt.UTC().Equal(end))
}

func TestStoreCreateSessionIsIdempotent(t *testing.T) {
	s := mustNewTestStore(t)
	now := time.Now().UTC()
	sess, err := s.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)

	later := now.Add(10 * time.Second)
	again, err := s.CreateSession(context.Background(), "sess-1", later)
	require.NoError(t, err)
	require.Equal(t, sess.CreatedAt, again.CreatedAt)
}

func TestStoreUpsertAndLoadRun(t *testing.T) {
	s := mustNewTestStore(t)
	agentID := id.New(id.KindAgent)
	run := sessionstore.RunMeta{
		AgentID:   agentID,
		SessionID: "sess-1",
		Status:    sessionstore.RunStatusPending,
		Labels:    map[string]string{"org": "demo"},
		Metadata:  map[string]any{"reason": "test"},
	}
	require.NoError(t, s.UpsertRun(context.Background(), run))

	stored, err := s.LoadRun(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, agentID, stored.AgentID)
	require.Equal(t, run.SessionID, stored.SessionID)
	require.Equal(t, run.Status, stored.Status)
	require.Equal(t, "demo", stored.Labels["org"])

	run.Status = sessionstore.RunStatusCompleted
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.UpsertRun(context.Background(), run))
	updated, err := s.LoadRun(context.Background(), agentID)
	require.NoError(t, err)
	require.Equal(t, sessionstore.RunStatusCompleted, updated.Status)
	require.True(t, updated.UpdatedAt.After(updated.StartedAt) || updated.UpdatedAt.Equal(updated.StartedAt))
}

func TestStoreListRunsBySession(t *testing.T) {
	s := mustNewTestStore(t)
	now := time.Now().UTC()
	running := id.New(id.KindAgent)
	pending := id.New(id.KindAgent)
	other := id.New(id.KindAgent)

	require.NoError(t, s.UpsertRun(context.Background(), sessionstore.RunMeta{
		AgentID: running, SessionID: "sess-1", Status: sessionstore.RunStatusRunning,
		StartedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.UpsertRun(context.Background(), sessionstore.RunMeta{
		AgentID: pending, SessionID: "sess-1", Status: sessionstore.RunStatusPending,
		StartedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.UpsertRun(context.Background(), sessionstore.RunMeta{
		AgentID: other, SessionID: "sess-2", Status: sessionstore.RunStatusRunning,
		StartedAt: now, UpdatedAt: now,
	}))

	out, err := s.ListRunsBySession(context.Background(), "sess-1", []sessionstore.RunStatus{sessionstore.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, running, out[0].AgentID)
}

func TestStoreUpsertRunValidation(t *testing.T) {
	s := mustNewTestStore(t)
	err := s.UpsertRun(context.Background(), sessionstore.RunMeta{})
	require.EqualError(t, err, "mongo: agent id is required")
	err = s.UpsertRun(context.Background(), sessionstore.RunMeta{AgentID: id.New(id.KindAgent)})
	require.EqualError(t, err, "mongo: session id is required")
}

func TestStoreLoadRunMissingReturnsNotFound(t *testing.T) {
	s := mustNewTestStore(t)
	_, err := s.LoadRun(context.Background(), id.New(id.KindAgent))
	require.ErrorIs(t, err, sessionstore.ErrRunNotFound)
}

func TestStoreLoadRunRequiresID(t *testing.T) {
	s := mustNewTestStore(t)
	_, err := s.LoadRun(context.Background(), id.Id{})
	require.EqualError(t, err, "mongo: agent id is required")
}

func mustNewTestStore(t *testing.T) *Store {
	t.Helper()
	sessions := newFakeSessionsCollection()
	runs := newFakeRunsCollection()
	s, err := newStoreWithCollections(nil, sessions, runs, time.Second)
	require.NoError(t, err)
	return s
}

type fakeRunsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]runDocument
}

func newFakeRunsCollection() *fakeRunsCollection {
	return &fakeRunsCollection{docs: make(map[string]runDocument)}
}

func (c *fakeRunsCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	agentID := filter.(bson.M)["agent_id"].(string)
	doc, ok := c.docs[agentID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeRunsCollection) Find(_ context.Context, filter any, _ ...*options.FindOptions) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := filter.(bson.M)
	sessionID, _ := f["session_id"].(string)
	var allowed map[sessionstore.RunStatus]struct{}
	if raw, ok := f["status"].(bson.M); ok {
		if in, ok := raw["$in"].([]sessionstore.RunStatus); ok {
			allowed = make(map[sessionstore.RunStatus]struct{}, len(in))
			for _, st := range in {
				allowed[st] = struct{}{}
			}
		}
	}
	docs := make([]any, 0, len(c.docs))
	for _, doc := range c.docs {
		if doc.SessionID != sessionID {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[doc.Status]; !ok {
				continue
			}
		}
		copyDoc := doc
		docs = append(docs, &copyDoc)
	}
	return newFakeCursor(docs), nil
}

func (c *fakeRunsCollection) UpdateOne(_ context.Context, filter any, update any,
	_ ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agentID := filter.(bson.M)["agent_id"].(string)
	doc, ok := c.docs[agentID]
	if !ok {
		doc = runDocument{}
	}
	up := update.(bson.M)
	set, ok := up["$set"].(bson.M)
	if !ok {
		return nil, errors.New("unsupported $set payload")
	}
	if v, ok := set["agent_id"].(string); ok {
		doc.AgentID = v
	}
	if v, ok := set["session_id"].(string); ok {
		doc.SessionID = v
	}
	if v, ok := set["status"].(sessionstore.RunStatus); ok {
		doc.Status = v
	}
	if v, ok := set["updated_at"].(time.Time); ok {
		doc.UpdatedAt = v
	}
	if v, ok := set["labels"].(map[string]string); ok {
		doc.Labels = v
	}
	if v, ok := set["metadata"].(map[string]any); ok {
		doc.Metadata = v
	}
	if soi, ok := up["$setOnInsert"].(bson.M); ok && doc.StartedAt.IsZero() {
		if ts, ok := soi["started_at"].(time.Time); ok {
			doc.StartedAt = ts
		}
	}
	c.docs[agentID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeRunsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...*options.CreateIndexesOptions) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "idx", nil
}

type fakeSingleResult struct {
	doc any
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	switch typed := val.(type) {
	case *runDocument:
		*typed = *(r.doc.(*runDocument))
	case *sessionDocument:
		*typed = *(r.doc.(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

type fakeSessionsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]sessionDocument
}

func newFakeSessionsCollection() *fakeSessionsCollection {
	return &fakeSessionsCollection{docs: make(map[string]sessionDocument)}
}

func (c *fakeSessionsCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	sessionID := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[sessionID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeSessionsCollection) Find(_ context.Context, _ any, _ ...*options.FindOptions) (cursor, error) {
	return newFakeCursor(nil), nil
}

func (c *fakeSessionsCollection) UpdateOne(_ context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID := filter.(bson.M)["session_id"].(string)
	doc, ok := c.docs[sessionID]
	if !ok {
		doc = sessionDocument{}
	}

	up := update.(bson.M)
	upsert := false
	if len(opts) > 0 && opts[0] != nil && opts[0].Upsert != nil {
		upsert = *opts[0].Upsert
	}

	if !ok && upsert {
		if soi, ok := up["$setOnInsert"].(bson.M); ok {
			if v, ok := soi["session_id"].(string); ok {
				doc.SessionID = v
			}
			if v, ok := soi["status"].(sessionstore.SessionStatus); ok {
				doc.Status = v
			}
			if v, ok := soi["created_at"].(time.Time); ok {
				doc.CreatedAt = v
			}
			if v, ok := soi["updated_at"].(time.Time); ok {
				doc.UpdatedAt = v
			}
		}
	}

	if setAny, ok := up["$set"]; ok {
		set, ok := setAny.(bson.M)
		if !ok {
			return nil, errors.New("unsupported $set payload")
		}
		if v, ok := set["session_id"].(string); ok {
			doc.SessionID = v
		}
		if v, ok := set["status"].(sessionstore.SessionStatus); ok {
			doc.Status = v
		}
		if v, ok := set["ended_at"].(time.Time); ok {
			doc.EndedAt = &v
		}
		if v, ok := set["updated_at"].(time.Time); ok {
			doc.UpdatedAt = v
		}
	}

	c.docs[sessionID] = doc
	return &mongodriver.UpdateResult{MatchedCount: 1}, nil
}

func (c *fakeSessionsCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeCursor struct {
	docs []any
	idx  int
}

func newFakeCursor(docs []any) *fakeCursor {
	return &fakeCursor{docs: docs, idx: -1}
}

func (c *fakeCursor) Close(_ context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	switch typed := val.(type) {
	case *runDocument:
		*typed = *(c.docs[c.idx].(*runDocument))
	case *sessionDocument:
		*typed = *(c.docs[c.idx].(*sessionDocument))
	default:
		return errors.New("unsupported target")
	}
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(_ context.Context) bool {
	next := c.idx + 1
	if next >= len(c.docs) {
		return false
	}
	c.idx = next
	return true
}
