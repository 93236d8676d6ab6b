package commitdb

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/commitdb/schema"
	"github.com/custodia-labs/commitdb/store"
	"github.com/custodia-labs/commitdb/store/memorystore"
)

func testRegistry() *schema.Registry {
	return schema.NewRegistry(map[string]schema.Schema{
		"contacts": {
			Required: []string{"name", "email"},
			Types: map[string]schema.FieldType{
				"name":  schema.String,
				"email": schema.String,
			},
			Defaults: map[string]schema.Default{
				"status": schema.Literal("new"),
			},
		},
		"blog": {
			Required: []string{"title"},
			Types: map[string]schema.FieldType{
				"title":     schema.String,
				"published": schema.Boolean,
				"tags":      schema.Array,
			},
		},
	})
}

// countingStore counts backend calls so tests can assert that validation
// failures never reach the store.
type countingStore struct {
	store.Conditional
	reads  int
	writes int
}

func (s *countingStore) Read(ctx context.Context, path string) ([]byte, store.Revision, error) {
	s.reads++
	return s.Conditional.Read(ctx, path)
}

func (s *countingStore) Write(ctx context.Context, path string, data []byte, expected store.Revision, message string) (store.Revision, error) {
	s.writes++
	return s.Conditional.Write(ctx, path, data, expected, message)
}

// alwaysConflictStore rejects every write with a revision conflict.
type alwaysConflictStore struct {
	writes int
}

func (s *alwaysConflictStore) Read(context.Context, string) ([]byte, store.Revision, error) {
	return nil, store.NoRevision, nil
}

func (s *alwaysConflictStore) Write(context.Context, string, []byte, store.Revision, string) (store.Revision, error) {
	s.writes++
	return store.NoRevision, fmt.Errorf("stale revision: %w", store.ErrConflict)
}

// timeoutStore reads fine but times out every write.
type timeoutStore struct {
	store.Conditional
}

func (s *timeoutStore) Write(context.Context, string, []byte, store.Revision, string) (store.Revision, error) {
	return store.NoRevision, fmt.Errorf("write blog.json: %w", store.ErrTimeout)
}

// validatingStore records credential validation calls made during Init.
type validatingStore struct {
	store.Conditional
	validations int
	err         error
}

func (s *validatingStore) ValidateCredentials(context.Context) error {
	s.validations++
	return s.err
}

// brokenStore fails every call.
type brokenStore struct{}

func (s *brokenStore) Read(context.Context, string) ([]byte, store.Revision, error) {
	return nil, store.NoRevision, errors.New("backend unreachable")
}

func (s *brokenStore) Write(context.Context, string, []byte, store.Revision, string) (store.Revision, error) {
	return store.NoRevision, errors.New("backend unreachable")
}

func TestClient_Get_EmptyCollection(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	docs, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClient_Insert_Success(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID())
	assert.Equal(t, "A", doc["name"])
	assert.Equal(t, "a@x.com", doc["email"])
	assert.Equal(t, "new", doc["status"])
}

func TestClient_Insert_RoundTrip(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)

	docs, err := c.Get(ctx, "contacts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc, docs[0])
}

func TestClient_Insert_RoundTrip_ColdCache(t *testing.T) {
	st := memorystore.New()
	ctx := context.Background()

	doc, err := New(st, testRegistry()).Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)

	// A second client instance reads the committed file from the backend.
	docs, err := New(st, testRegistry()).Get(ctx, "contacts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc, docs[0])
}

func TestClient_Insert_MissingRequired_NoBackendCall(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	_, err := c.Insert(ctx, "contacts", Document{"name": "A"})
	require.Error(t, err)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.MissingRequiredField, verr.Kind)
	assert.Equal(t, "email", verr.Field)
	assert.Zero(t, cs.writes, "validation failures must not reach the backend")
}

func TestClient_Insert_UnknownCollection(t *testing.T) {
	c := New(memorystore.New(), testRegistry())

	_, err := c.Insert(context.Background(), "podcasts", Document{"title": "ep1"})
	assert.ErrorIs(t, err, schema.ErrUnknownCollection)
}

func TestClient_Insert_DefaultEvaluatedPerInsert(t *testing.T) {
	calls := 0
	reg := schema.NewRegistry(map[string]schema.Schema{
		"blog": {
			Required: []string{"title"},
			Defaults: map[string]schema.Default{
				"seq": schema.Rule(func() any {
					calls++
					return calls
				}),
			},
		},
	})
	c := New(memorystore.New(), reg)
	ctx := context.Background()

	first, err := c.Insert(ctx, "blog", Document{"title": "one"})
	require.NoError(t, err)
	second, err := c.Insert(ctx, "blog", Document{"title": "two"})
	require.NoError(t, err)

	assert.NotEqual(t, first["seq"], second["seq"])
}

func TestClient_Insert_UniqueIDs(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 25; i++ {
		doc, err := c.Insert(ctx, "blog", Document{"title": fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
		assert.False(t, seen[doc.ID()], "duplicate id %q", doc.ID())
		seen[doc.ID()] = true
	}
}

func TestClient_Insert_RegeneratesCollidingID(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	c := New(memorystore.New(), testRegistry(), WithIDGenerator(func() string {
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}))
	ctx := context.Background()

	first, err := c.Insert(ctx, "blog", Document{"title": "one"})
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID())

	second, err := c.Insert(ctx, "blog", Document{"title": "two"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID())
}

func TestClient_BulkInsert_SingleCommit(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	docs, err := c.BulkInsert(ctx, "blog", []Document{
		{"title": "first"},
		{"title": "second"},
		{"title": "third"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, 1, cs.writes, "a batch is one read-modify-write commit")

	// Input order preserved.
	assert.Equal(t, "first", docs[0]["title"])
	assert.Equal(t, "second", docs[1]["title"])
	assert.Equal(t, "third", docs[2]["title"])
	assert.NotEqual(t, docs[0].ID(), docs[1].ID())
}

func TestClient_BulkInsert_AllOrNothing(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	_, err := c.BulkInsert(ctx, "blog", []Document{
		{"title": "valid"},
		{}, // missing required title
	})
	require.Error(t, err)
	assert.Zero(t, cs.writes)

	docs, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClient_Update_Partial(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)

	updated, err := c.Update(ctx, "contacts", doc.ID(), Document{"status": "read"})
	require.NoError(t, err)
	assert.Equal(t, "read", updated["status"])
	assert.Equal(t, "A", updated["name"])
	assert.Equal(t, "a@x.com", updated["email"])
	assert.Equal(t, doc.ID(), updated.ID())
}

func TestClient_Update_IDImmutable(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)

	updated, err := c.Update(ctx, "contacts", doc.ID(), Document{"id": "hijacked", "status": "read"})
	require.NoError(t, err)
	assert.Equal(t, doc.ID(), updated.ID())
}

func TestClient_Update_NotFound(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	before, err := c.Get(ctx, "blog")
	require.NoError(t, err)

	_, err = c.Update(ctx, "blog", "42", Document{"published": true})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))

	after, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed update must not change the collection")
}

func TestClient_Update_RevalidatesMerge(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "blog", Document{"title": "post"})
	require.NoError(t, err)

	_, err = c.Update(ctx, "blog", doc.ID(), Document{"published": 3})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, schema.TypeMismatch, verr.Kind)
}

func TestClient_Delete_ThenNotFound(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "contacts", Document{"name": "A", "email": "a@x.com"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "contacts", doc.ID()))

	err = c.Delete(ctx, "contacts", doc.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := c.Get(ctx, "contacts")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClient_Get_Filtered(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	_, err := c.BulkInsert(ctx, "blog", []Document{
		{"title": "draft one", "published": false},
		{"title": "live one", "published": true},
		{"title": "draft two", "published": false},
	})
	require.NoError(t, err)

	live, err := c.Get(ctx, "blog", Where(Document{"published": true}))
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "live one", live[0]["title"])
}

func TestClient_Get_ServedFromCache(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	_, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	_, err = c.Get(ctx, "blog")
	require.NoError(t, err)
	_, err = c.Get(ctx, "blog")
	require.NoError(t, err)

	assert.Equal(t, 1, cs.reads)
}

func TestClient_Get_ResultDoesNotAliasCache(t *testing.T) {
	c := New(memorystore.New(), testRegistry())
	ctx := context.Background()

	doc, err := c.Insert(ctx, "blog", Document{"title": "post"})
	require.NoError(t, err)

	docs, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	docs[0]["title"] = "mangled by caller"

	again, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, "post", again[0]["title"])
	assert.Equal(t, doc.ID(), again[0].ID())
}

func TestClient_ConflictRetry_Converges(t *testing.T) {
	// Two client instances over one backend, as two admin tabs would be.
	st := memorystore.New()
	a := New(st, testRegistry())
	b := New(st, testRegistry())
	ctx := context.Background()

	// Both warm their caches at the same revision.
	_, err := a.Get(ctx, "blog")
	require.NoError(t, err)
	_, err = b.Get(ctx, "blog")
	require.NoError(t, err)

	// B commits first; A's cached revision is now stale, so A's write
	// conflicts once, re-reads, and retries.
	_, err = b.Insert(ctx, "blog", Document{"title": "from b"})
	require.NoError(t, err)
	_, err = a.Insert(ctx, "blog", Document{"title": "from a"})
	require.NoError(t, err)

	docs, err := New(st, testRegistry()).Get(ctx, "blog")
	require.NoError(t, err)
	require.Len(t, docs, 2, "neither write may be lost")

	titles := []string{docs[0]["title"].(string), docs[1]["title"].(string)}
	assert.ElementsMatch(t, []string{"from a", "from b"}, titles)
}

func TestClient_ConflictRetry_Exhausts(t *testing.T) {
	st := &alwaysConflictStore{}
	c := New(st, testRegistry(), WithMaxWriteAttempts(3))
	ctx := context.Background()

	_, err := c.Insert(ctx, "blog", Document{"title": "doomed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflictExhausted)

	var exhausted *ConflictExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "blog", exhausted.Collection)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, st.writes, "exactly the configured number of attempts")
}

func TestClient_InsertIf_GuardRejects(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	guardErr := errors.New("slug already in use")
	_, err := c.InsertIf(ctx, "blog", Document{"title": "post"}, func([]Document) error {
		return guardErr
	})
	assert.ErrorIs(t, err, guardErr)
	assert.Zero(t, cs.writes, "a rejected guard must not reach the backend")

	docs, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClient_InsertIf_GuardSeesFreshSnapshotAfterConflict(t *testing.T) {
	// Two client instances over one backend. A warms its cache, then B
	// commits a post with the contested title. A's guard passes against the
	// stale cache, the write conflicts, and the retry must re-run the guard
	// against the re-read snapshot that now contains B's post.
	st := memorystore.New()
	a := New(st, testRegistry())
	b := New(st, testRegistry())
	ctx := context.Background()

	_, err := a.Get(ctx, "blog")
	require.NoError(t, err)

	_, err = b.Insert(ctx, "blog", Document{"title": "launch notes"})
	require.NoError(t, err)

	uniqueTitle := func(docs []Document) error {
		for _, d := range docs {
			if d["title"] == "launch notes" {
				return errors.New("title already in use")
			}
		}
		return nil
	}
	_, err = a.InsertIf(ctx, "blog", Document{"title": "launch notes"}, uniqueTitle)
	require.Error(t, err)
	assert.EqualError(t, err, "title already in use")

	docs, err := New(st, testRegistry()).Get(ctx, "blog")
	require.NoError(t, err)
	assert.Len(t, docs, 1, "the losing insert must not be applied")
}

func TestClient_Write_TimeoutNotRetried(t *testing.T) {
	c := New(&timeoutStore{Conditional: memorystore.New()}, testRegistry())
	ctx := context.Background()

	_, err := c.Insert(ctx, "blog", Document{"title": "post"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTimeout)
	assert.NotErrorIs(t, err, ErrConflictExhausted)
}

func TestClient_Init_FailuresAreNonFatal(t *testing.T) {
	c := New(&brokenStore{}, testRegistry())

	// Must not panic or surface anything; cold reads remain the fallback.
	c.Init(context.Background())
}

func TestClient_Init_WarmsCache(t *testing.T) {
	cs := &countingStore{Conditional: memorystore.New()}
	c := New(cs, testRegistry())
	ctx := context.Background()

	c.Init(ctx, "blog")
	require.Equal(t, 1, cs.reads)

	_, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Equal(t, 1, cs.reads, "warmed collection served from cache")
}

func TestClient_Init_ValidatesCredentials(t *testing.T) {
	vs := &validatingStore{Conditional: memorystore.New()}
	c := New(vs, testRegistry())

	c.Init(context.Background())
	assert.Equal(t, 1, vs.validations)
}

func TestClient_Init_BadCredentialsAreNonFatal(t *testing.T) {
	vs := &validatingStore{
		Conditional: memorystore.New(),
		err:         errors.New("bad token"),
	}
	c := New(vs, testRegistry())
	ctx := context.Background()

	c.Init(ctx)
	assert.Equal(t, 1, vs.validations)

	// Warm-up proceeded regardless; reads still work.
	docs, err := c.Get(ctx, "blog")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWhere(t *testing.T) {
	f := Where(Document{"status": "new", "author": "A"})

	assert.True(t, f(Document{"status": "new", "author": "A", "extra": 1}))
	assert.False(t, f(Document{"status": "new", "author": "B"}))
	assert.False(t, f(Document{"author": "A"}))
}

func TestWhere_ArrayField(t *testing.T) {
	// Array-typed fields decode as []interface{}; matching on them must
	// compare element-wise rather than panic on an uncomparable value.
	f := Where(Document{"tags": []any{"go", "testing"}})

	assert.True(t, f(Document{"title": "post", "tags": []any{"go", "testing"}}))
	assert.False(t, f(Document{"title": "post", "tags": []any{"go"}}))
	assert.False(t, f(Document{"title": "post"}))

	// And the scalar case still rejects array values without panicking.
	scalar := Where(Document{"tags": "go"})
	assert.False(t, scalar(Document{"tags": []any{"go"}}))
}
