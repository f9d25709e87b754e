// Package mongo persists sessionstore records in MongoDB via
// go.mongodb.org/mongo-driver/v2, the same collection/cursor shape
// features/session/mongo/clients/mongo/client.go wraps for its own
// session store, retargeted from a string RunID to the kernel's id.Id.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/agentkernel/core/internal/kernel/id"
	"github.com/agentkernel/core/internal/kernel/sessionstore"
)

const (
	defaultSessionsCollection = "kernel_sessions"
	defaultRunsCollection     = "kernel_runs"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	SessionsCollection string
	RunsCollection     string
	Timeout            time.Duration
}

// Store implements sessionstore.Store against a MongoDB collection pair:
// one document per session, one per agent run.
type Store struct {
	mongo    *mongodriver.Client
	sessions collection
	runs     collection
	timeout  time.Duration
}

var _ sessionstore.Store = (*Store)(nil)

// New connects Store to the given database, creating the indexes it
// depends on (a unique session_id index, a unique agent_id index, and a
// session_id+status index for ListRunsBySession).
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	sessionsCollection := opts.SessionsCollection
	if sessionsCollection == "" {
		sessionsCollection = defaultSessionsCollection
	}
	runsCollection := opts.RunsCollection
	if runsCollection == "" {
		runsCollection = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	sessColl := opts.Client.Database(opts.Database).Collection(sessionsCollection)
	runColl := opts.Client.Database(opts.Database).Collection(runsCollection)

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sessWrapper := mongoCollection{coll: sessColl}
	runWrapper := mongoCollection{coll: runColl}
	if err := ensureIndexes(ctxTimeout, sessWrapper, runWrapper); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, sessions: sessWrapper, runs: runWrapper, timeout: timeout}, nil
}

func newStoreWithCollections(mongoClient *mongodriver.Client, sessionsColl, runsColl collection, timeout time.Duration) (*Store, error) {
	if sessionsColl == nil || runsColl == nil {
		return nil, errors.New("mongo: collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{mongo: mongoClient, sessions: sessionsColl, runs: runsColl, timeout: timeout}, nil
}

// Ping reports whether the underlying Mongo connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// CreateSession implements sessionstore.Store.
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("mongo: session id is required")
	}
	if createdAt.IsZero() {
		return sessionstore.Session{}, errors.New("mongo: created_at is required")
	}

	existing, err := s.LoadSession(ctx, sessionID)
	if err == nil {
		if existing.Status == sessionstore.StatusEnded {
			return sessionstore.Session{}, sessionstore.ErrSessionEnded
		}
		return existing, nil
	}
	if !errors.Is(err, sessionstore.ErrSessionNotFound) {
		return sessionstore.Session{}, err
	}

	now := time.Now().UTC()
	createdAt = createdAt.UTC()
	ctxTimeout, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		// Idempotent insert: CreateSession must never modify an existing
		// session. Mongo rejects an update that sets the same path in both
		// $set and $setOnInsert, so this stays a pure $setOnInsert.
		"$setOnInsert": bson.M{
			"session_id": sessionID,
			"status":     sessionstore.StatusActive,
			"created_at": createdAt,
			"updated_at": now,
		},
	}
	if _, err := s.sessions.UpdateOne(ctxTimeout, filter, update, options.Update().SetUpsert(true)); err != nil {
		return sessionstore.Session{}, err
	}

	out, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return sessionstore.Session{}, err
	}
	if out.Status == sessionstore.StatusEnded {
		return sessionstore.Session{}, sessionstore.ErrSessionEnded
	}
	return out, nil
}

// LoadSession implements sessionstore.Store.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("mongo: session id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	var doc sessionDocument
	if err := s.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sessionstore.Session{}, sessionstore.ErrSessionNotFound
		}
		return sessionstore.Session{}, err
	}
	return doc.toSession(), nil
}

// EndSession implements sessionstore.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (sessionstore.Session, error) {
	if sessionID == "" {
		return sessionstore.Session{}, errors.New("mongo: session id is required")
	}
	if endedAt.IsZero() {
		return sessionstore.Session{}, errors.New("mongo: ended_at is required")
	}

	existing, err := s.LoadSession(ctx, sessionID)
	if err != nil {
		return sessionstore.Session{}, err
	}
	if existing.Status == sessionstore.StatusEnded {
		return existing, nil
	}

	now := time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$set": bson.M{
			"status":     sessionstore.StatusEnded,
			"ended_at":   endedAt.UTC(),
			"updated_at": now,
		},
	}
	if _, err := s.sessions.UpdateOne(ctx, filter, update); err != nil {
		return sessionstore.Session{}, err
	}
	return s.LoadSession(ctx, sessionID)
}

// UpsertRun implements sessionstore.Store.
func (s *Store) UpsertRun(ctx context.Context, run sessionstore.RunMeta) error {
	if run.AgentID.IsZero() {
		return errors.New("mongo: agent id is required")
	}
	if run.SessionID == "" {
		return errors.New("mongo: session id is required")
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now
	doc := fromRunMeta(run)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"agent_id": doc.AgentID}
	update := bson.M{
		"$set": bson.M{
			"agent_id":   doc.AgentID,
			"session_id": doc.SessionID,
			"status":     doc.Status,
			"updated_at": doc.UpdatedAt,
			"labels":     doc.Labels,
			"metadata":   doc.Metadata,
		},
		"$setOnInsert": bson.M{
			"started_at": doc.StartedAt,
		},
	}
	_, err := s.runs.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// LoadRun implements sessionstore.Store.
func (s *Store) LoadRun(ctx context.Context, agentID id.Id) (sessionstore.RunMeta, error) {
	if agentID.IsZero() {
		return sessionstore.RunMeta{}, errors.New("mongo: agent id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"agent_id": agentID.String()}
	var doc runDocument
	if err := s.runs.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return sessionstore.RunMeta{}, sessionstore.ErrRunNotFound
		}
		return sessionstore.RunMeta{}, err
	}
	return doc.toRunMeta()
}

// ListRunsBySession implements sessionstore.Store.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, statuses []sessionstore.RunStatus) ([]sessionstore.RunMeta, error) {
	if sessionID == "" {
		return nil, errors.New("mongo: session id is required")
	}
	filter := bson.M{"session_id": sessionID}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.runs.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []sessionstore.RunMeta
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		run, err := doc.toRunMeta()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type runDocument struct {
	AgentID   string                   `bson:"agent_id"`
	SessionID string                   `bson:"session_id,omitempty"`
	Status    sessionstore.RunStatus   `bson:"status"`
	StartedAt time.Time                `bson:"started_at"`
	UpdatedAt time.Time                `bson:"updated_at"`
	Labels    map[string]string        `bson:"labels,omitempty"`
	Metadata  map[string]any           `bson:"metadata,omitempty"`
}

type sessionDocument struct {
	SessionID string                   `bson:"session_id"`
	Status    sessionstore.SessionStatus `bson:"status"`
	CreatedAt time.Time                `bson:"created_at"`
	EndedAt   *time.Time               `bson:"ended_at,omitempty"`
	UpdatedAt time.Time                `bson:"updated_at"`
}

func fromRunMeta(run sessionstore.RunMeta) runDocument {
	return runDocument{
		AgentID:   run.AgentID.String(),
		SessionID: run.SessionID,
		Status:    run.Status,
		StartedAt: run.StartedAt.UTC(),
		UpdatedAt: run.UpdatedAt.UTC(),
		Labels:    cloneLabels(run.Labels),
		Metadata:  cloneMetadata(run.Metadata),
	}
}

func (doc runDocument) toRunMeta() (sessionstore.RunMeta, error) {
	agentID, err := id.Parse(doc.AgentID)
	if err != nil {
		return sessionstore.RunMeta{}, err
	}
	return sessionstore.RunMeta{
		AgentID:   agentID,
		SessionID: doc.SessionID,
		Status:    doc.Status,
		StartedAt: doc.StartedAt,
		UpdatedAt: doc.UpdatedAt,
		Labels:    cloneLabels(doc.Labels),
		Metadata:  cloneMetadata(doc.Metadata),
	}, nil
}

func (doc sessionDocument) toSession() sessionstore.Session {
	var endedAt *time.Time
	if doc.EndedAt != nil {
		at := doc.EndedAt.UTC()
		endedAt = &at
	}
	return sessionstore.Session{
		ID:        doc.SessionID,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt.UTC(),
		EndedAt:   endedAt,
	}
}

func cloneLabels(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneMetadata(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureIndexes(ctx context.Context, sessionsColl, runsColl collection) error {
	sessionIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := sessionsColl.Indexes().CreateOne(ctx, sessionIndex); err != nil {
		return err
	}
	runIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := runsColl.Indexes().CreateOne(ctx, runIndex); err != nil {
		return err
	}
	runSessionStatusIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "status", Value: 1},
		},
	}
	if _, err := runsColl.Indexes().CreateOne(ctx, runSessionStatusIndex); err != nil {
		return err
	}
	return nil
}

// collection is the minimal Mongo collection surface Store depends on, kept
// narrow so it can be satisfied by a fake in tests without a live server.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
