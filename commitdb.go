// Package commitdb is a document store for content sites whose "database"
// is a version-controlled repository reached through a content API.
//
// Collections are files; every write is a commit. The backend offers no
// row-level updates, no transactions, and no locks, so the client
// synthesizes document semantics on top: unique ids, per-collection schema
// enforcement, shallow-merge updates, bulk writes as a single commit, and an
// optimistic-concurrency retry loop that keeps two concurrent writers (two
// admin tabs, say) from silently clobbering each other.
//
// The client is constructed explicitly and passed around by the
// application's composition root. There is no package-level instance.
package commitdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/commitdb/internal/logger"
	"github.com/custodia-labs/commitdb/schema"
	"github.com/custodia-labs/commitdb/store"
)

type cacheEntry struct {
	docs []Document
	rev  store.Revision
}

// Client is the document store façade. All reads go through a per-collection
// cache; all writes go through the conflict-retry loop.
//
// Client is safe for concurrent use. Writes to the same collection are
// serialized locally; writes from other processes are handled by the
// backend's revision precondition.
type Client struct {
	store    store.Conditional
	registry *schema.Registry

	maxWriteAttempts int
	messagePrefix    string
	newID            func() string

	mu    sync.RWMutex
	cache map[string]cacheEntry
	locks map[string]*sync.Mutex
}

// New creates a client over a conditional store and a schema registry.
func New(st store.Conditional, registry *schema.Registry, opts ...Option) *Client {
	c := &Client{
		store:            st,
		registry:         registry,
		maxWriteAttempts: DefaultMaxWriteAttempts,
		messagePrefix:    DefaultMessagePrefix,
		newID:            defaultIDGenerator,
		cache:            make(map[string]cacheEntry),
		locks:            make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the schema registry the client was built with.
func (c *Client) Registry() *schema.Registry {
	return c.registry
}

// Init warms the cache for the given collections, or for every registered
// collection when none are named. Failures are logged and skipped: a cold
// cache is always a valid fallback on first real access.
func (c *Client) Init(ctx context.Context, collections ...string) {
	if v, ok := c.store.(store.CredentialValidator); ok {
		if err := v.ValidateCredentials(ctx); err != nil {
			logger.Warn("init: credential validation failed: %v", err)
		} else {
			logger.Info("init: backend credentials verified")
		}
	}

	if len(collections) == 0 {
		collections = c.registry.Collections()
	}
	for _, name := range collections {
		if _, _, err := c.snapshot(ctx, name, false); err != nil {
			logger.Warn("init: warm-up read of %q failed: %v", name, err)
			continue
		}
		logger.Debug("init: warmed collection %q", name)
	}
}

// Get returns the documents of a collection, optionally filtered. An empty
// or not-yet-created collection yields an empty slice, never an error.
func (c *Client) Get(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	docs, _, err := c.snapshot(ctx, collection, false)
	if err != nil {
		return nil, err
	}

	if len(filters) == 0 {
		return docs, nil
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		keep := true
		for _, f := range filters {
			if !f(d) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, d)
		}
	}
	return out, nil
}

// Insert validates a partial document against the collection schema,
// injects defaults, assigns a unique id, and commits. The stored document
// is returned.
func (c *Client) Insert(ctx context.Context, collection string, partial Document) (Document, error) {
	return c.InsertIf(ctx, collection, partial, nil)
}

// InsertIf inserts like Insert, but first evaluates guard against the
// collection snapshot INSIDE the conflict-retry loop. When a conflicting
// commit forces a re-read, the guard runs again on the fresh snapshot, so
// preconditions like "no other document has this email" hold against the
// state that is actually committed, not against a stale cache. The guard
// must not modify the snapshot it is given.
func (c *Client) InsertIf(ctx context.Context, collection string, partial Document, guard func([]Document) error) (Document, error) {
	s, err := c.registry.Describe(collection)
	if err != nil {
		return nil, err
	}
	prepared, err := schema.Prepare(s, partial, schema.Create)
	if err != nil {
		return nil, err
	}

	var stored Document
	message := fmt.Sprintf("%sinsert into %s", c.messagePrefix, collection)
	err = c.commit(ctx, collection, message, func(docs []Document) ([]Document, error) {
		if guard != nil {
			if err := guard(docs); err != nil {
				return nil, err
			}
		}
		doc := Document(prepared).clone()
		doc[FieldID] = c.uniqueID(docs)
		stored = doc
		return append(docs, doc), nil
	})
	if err != nil {
		return nil, err
	}
	return stored.clone(), nil
}

// BulkInsert validates and inserts a batch of documents with a single
// commit. Either the whole batch is stored or none of it. Result order
// matches input order.
func (c *Client) BulkInsert(ctx context.Context, collection string, partials []Document) ([]Document, error) {
	s, err := c.registry.Describe(collection)
	if err != nil {
		return nil, err
	}

	prepared := make([]Document, len(partials))
	for i, p := range partials {
		doc, err := schema.Prepare(s, p, schema.Create)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		prepared[i] = doc
	}

	var stored []Document
	message := fmt.Sprintf("%sbulk insert %d documents into %s", c.messagePrefix, len(prepared), collection)
	err = c.commit(ctx, collection, message, func(docs []Document) ([]Document, error) {
		stored = make([]Document, len(prepared))
		for i, p := range prepared {
			doc := p.clone()
			doc[FieldID] = c.uniqueID(docs)
			stored[i] = doc
			docs = append(docs, doc)
		}
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneDocuments(stored), nil
}

// Update shallow-merges a partial document into the document with the given
// id: supplied fields overwrite, omitted fields are untouched, and the id
// itself is immutable. The merged result is re-validated before committing.
func (c *Client) Update(ctx context.Context, collection, id string, partial Document) (Document, error) {
	s, err := c.registry.Describe(collection)
	if err != nil {
		return nil, err
	}
	prepared, err := schema.Prepare(s, partial, schema.Update)
	if err != nil {
		return nil, err
	}

	var updated Document
	message := fmt.Sprintf("%supdate %s in %s", c.messagePrefix, id, collection)
	err = c.commit(ctx, collection, message, func(docs []Document) ([]Document, error) {
		idx := findByID(docs, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: id %q in collection %q", ErrNotFound, id, collection)
		}
		merged := docs[idx].clone()
		for k, v := range prepared {
			if k == FieldID {
				continue
			}
			merged[k] = v
		}
		if _, err := schema.Prepare(s, merged, schema.Update); err != nil {
			return nil, err
		}
		out := make([]Document, len(docs))
		copy(out, docs)
		out[idx] = merged
		updated = merged
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return updated.clone(), nil
}

// Delete removes the document with the given id. There are no tombstones;
// the document disappears from the collection file and survives only in the
// backing repository's commit history.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if _, err := c.registry.Describe(collection); err != nil {
		return err
	}

	message := fmt.Sprintf("%sdelete %s from %s", c.messagePrefix, id, collection)
	return c.commit(ctx, collection, message, func(docs []Document) ([]Document, error) {
		idx := findByID(docs, id)
		if idx < 0 {
			return nil, fmt.Errorf("%w: id %q in collection %q", ErrNotFound, id, collection)
		}
		out := make([]Document, 0, len(docs)-1)
		out = append(out, docs[:idx]...)
		out = append(out, docs[idx+1:]...)
		return out, nil
	})
}

// commit runs the conflict-retry protocol for one logical mutation:
// read the current snapshot, apply mutate, attempt a conditional write.
// On a revision conflict the snapshot is discarded, the collection is
// re-read fresh from the backend, and the same logical mutation is applied
// again, up to the configured attempt bound.
func (c *Client) commit(ctx context.Context, collection, message string, mutate func([]Document) ([]Document, error)) error {
	lock := c.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	bypassCache := false
	for attempt := 1; attempt <= c.maxWriteAttempts; attempt++ {
		docs, rev, err := c.snapshot(ctx, collection, bypassCache)
		if err != nil {
			return err
		}

		mutated, err := mutate(docs)
		if err != nil {
			return err
		}

		data, err := encodeCollection(mutated)
		if err != nil {
			return err
		}

		newRev, err := c.store.Write(ctx, collectionPath(collection), data, rev, message)
		if err == nil {
			c.setCache(collection, mutated, newRev)
			if attempt > 1 {
				logger.Info("commit: %q committed after %d attempts", collection, attempt)
			}
			return nil
		}
		if !store.IsConflict(err) {
			return err
		}

		logger.Debug("commit: conflict on %q (attempt %d/%d), re-reading", collection, attempt, c.maxWriteAttempts)
		c.invalidate(collection)
		bypassCache = true
	}

	return &ConflictExhaustedError{Collection: collection, Attempts: c.maxWriteAttempts}
}

// snapshot returns the documents and revision for a collection, reading
// through the cache unless asked to bypass it. The returned documents are
// copies; mutating them never corrupts the cache.
func (c *Client) snapshot(ctx context.Context, collection string, bypassCache bool) ([]Document, store.Revision, error) {
	if !bypassCache {
		c.mu.RLock()
		entry, ok := c.cache[collection]
		c.mu.RUnlock()
		if ok {
			return cloneDocuments(entry.docs), entry.rev, nil
		}
	}

	data, rev, err := c.store.Read(ctx, collectionPath(collection))
	if err != nil {
		return nil, store.NoRevision, fmt.Errorf("read collection %q: %w", collection, err)
	}
	docs, err := decodeCollection(data)
	if err != nil {
		return nil, store.NoRevision, fmt.Errorf("collection %q: %w", collection, err)
	}

	c.setCache(collection, docs, rev)
	return cloneDocuments(docs), rev, nil
}

func (c *Client) setCache(collection string, docs []Document, rev store.Revision) {
	c.mu.Lock()
	c.cache[collection] = cacheEntry{docs: cloneDocuments(docs), rev: rev}
	c.mu.Unlock()
}

func (c *Client) invalidate(collection string) {
	c.mu.Lock()
	delete(c.cache, collection)
	c.mu.Unlock()
}

// collectionLock returns the mutex serializing writes to one collection
// within this client instance.
func (c *Client) collectionLock(collection string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[collection]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[collection] = lock
	}
	return lock
}

// uniqueID generates a document id that does not collide with any id in the
// snapshot.
func (c *Client) uniqueID(docs []Document) string {
	for {
		id := c.newID()
		if findByID(docs, id) < 0 {
			return id
		}
		logger.Debug("uniqueID: collision on %q, regenerating", id)
	}
}

// collectionPath maps a collection name to its resource path in the store.
func collectionPath(collection string) string {
	return collection + ".json"
}
