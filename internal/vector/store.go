// Package vector is an embedded similarity index organised in named
// collections, each persisted as its own unit.
//
// Queries are exhaustive: every document that passes the where filter is
// scored by cosine similarity and the best n are returned, ties kept in
// insertion order.
package vector

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeanpaul/companionstore/internal/persist"
)

// DefaultResults is used when a query asks for zero or fewer results.
const DefaultResults = 10

var collectionName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,63}$`)

// Options configures a Store.
type Options struct {
	// EmbeddingDim is the length every embedding must have.
	EmbeddingDim int
	// PersistInterval is the cadence of the background snapshot started by
	// Start. Zero disables the loop.
	PersistInterval time.Duration
	Logger          *zap.Logger
	Now             func() time.Time
}

// Document is a stored text with its embedding.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Seq orders documents by first insertion.
	Seq uint64 `json:"seq"`
}

func (d *Document) clone() Document {
	c := *d
	c.Embedding = slices.Clone(d.Embedding)
	c.Metadata = d.Metadata.Clone()
	return c
}

// Result is a query hit.
type Result struct {
	Document
	Similarity float64
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	ID        string
	Name      string
	Metadata  Metadata
	CreatedAt time.Time
	Count     int
}

// GetRequest selects documents for GetDocuments. With IDs set, only those
// documents are considered, in the given order. Limit zero means no limit.
type GetRequest struct {
	IDs    []string
	Where  Filter
	Limit  int
	Offset int
}

type collection struct {
	id        string
	name      string
	metadata  Metadata
	createdAt time.Time
	docs      map[string]*Document
	nextSeq   uint64
}

func (c *collection) info() CollectionInfo {
	return CollectionInfo{
		ID:        c.id,
		Name:      c.name,
		Metadata:  c.metadata.Clone(),
		CreatedAt: c.createdAt,
		Count:     len(c.docs),
	}
}

// ordered returns the documents matching where, in insertion order.
func (c *collection) ordered(where Filter) []*Document {
	out := make([]*Document, 0, len(c.docs))
	for _, d := range c.docs {
		if where.Match(d.Metadata) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	dim         int
	collections map[string]*collection
	dirty       map[string]struct{}
	removed     map[string]struct{}

	saveMu sync.Mutex
	pm     *persist.Manager
	opts   Options
	log    *zap.Logger
	now    func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Open restores every collection persisted in pm. A nil pm gives a
// memory-only store.
func Open(pm *persist.Manager, opts Options) (*Store, error) {
	if opts.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("vector: embedding dimension must be positive, got %d", opts.EmbeddingDim)
	}
	if opts.PersistInterval < 0 {
		return nil, errors.New("vector: persist interval must not be negative")
	}
	s := &Store{
		dim:         opts.EmbeddingDim,
		collections: make(map[string]*collection),
		dirty:       make(map[string]struct{}),
		removed:     make(map[string]struct{}),
		pm:          pm,
		opts:        opts,
		log:         opts.Logger,
		now:         opts.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.restore()
	return s, nil
}

// Dim returns the configured embedding dimension.
func (s *Store) Dim() int { return s.dim }

func validName(name string) error {
	if !collectionName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) checkDim(embedding []float32, what string, i int) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: %s %d has %d values, want %d", ErrDimensionMismatch, what, i, len(embedding), s.dim)
	}
	for _, x := range embedding {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: %s %d", ErrInvalidEmbedding, what, i)
		}
	}
	return nil
}

// newCollection registers an empty collection. Callers hold s.mu.
func (s *Store) newCollection(name string, md Metadata) *collection {
	c := &collection{
		id:        uuid.NewString(),
		name:      name,
		metadata:  md.Clone(),
		createdAt: s.now(),
		docs:      make(map[string]*Document),
	}
	s.collections[name] = c
	s.dirty[name] = struct{}{}
	return c
}

// CreateCollection creates an empty collection.
func (s *Store) CreateCollection(name string, md Metadata) (CollectionInfo, error) {
	if err := validName(name); err != nil {
		return CollectionInfo{}, err
	}
	for field, v := range md {
		if v.Kind() == 0 {
			return CollectionInfo{}, fmt.Errorf("%w: collection field %q is empty", ErrInvalidMetadata, field)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; ok {
		return CollectionInfo{}, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	c := s.newCollection(name, md)
	s.log.Debug("collection created", zap.String("collection", name), zap.String("id", c.id))
	return c.info(), nil
}

// GetCollection describes a collection.
func (s *Store) GetCollection(name string) (CollectionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return CollectionInfo{}, false
	}
	return c.info(), true
}

// ListCollections returns the collection names in sorted order.
func (s *Store) ListCollections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteCollection drops a collection with all its documents. Its file is
// removed on the next flush.
func (s *Store) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(s.collections, name)
	delete(s.dirty, name)
	s.removed[name] = struct{}{}
	s.log.Debug("collection deleted", zap.String("collection", name))
	return nil
}

// documentID derives an id from the content hash, a nanosecond timestamp and
// the user_id metadata field when present.
func documentID(content string, ts time.Time, md Metadata) string {
	sum := sha256.Sum256([]byte(content))
	id := hex.EncodeToString(sum[:8]) + "_" + strconv.FormatInt(ts.UnixNano(), 10)
	if u, ok := md["user_id"]; ok && u.Kind() == KindString && u.str != "" {
		id += "_" + u.str
	}
	return id
}

// AddDocuments upserts documents into a collection, creating it when needed.
// docs and embeddings are parallel; metas and ids may be nil, otherwise they
// must be parallel too. It returns the ids of the written documents. Nothing
// is written unless every entry is valid.
func (s *Store) AddDocuments(name string, docs []string, embeddings [][]float32, metas []Metadata, ids []string) ([]string, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if len(embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: %d documents, %d embeddings", ErrLengthMismatch, len(docs), len(embeddings))
	}
	if metas != nil && len(metas) != len(docs) {
		return nil, fmt.Errorf("%w: %d documents, %d metadatas", ErrLengthMismatch, len(docs), len(metas))
	}
	if ids != nil && len(ids) != len(docs) {
		return nil, fmt.Errorf("%w: %d documents, %d ids", ErrLengthMismatch, len(docs), len(ids))
	}
	for i, e := range embeddings {
		if err := s.checkDim(e, "embedding", i); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("%w: empty id at %d", ErrInvalidID, i)
		}
		if j, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q repeated at %d and %d", ErrInvalidID, id, j, i)
		}
		seen[id] = i
	}
	for i, md := range metas {
		for field, v := range md {
			if v.Kind() == 0 {
				return nil, fmt.Errorf("%w: field %q of document %d is empty", ErrInvalidMetadata, field, i)
			}
		}
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = s.newCollection(name, nil)
		s.log.Debug("collection auto-created", zap.String("collection", name))
	}

	now := s.now()
	written := make([]string, len(docs))
	for i, content := range docs {
		var md Metadata
		if metas != nil {
			md = metas[i].Clone()
		}
		var id string
		if ids != nil {
			id = ids[i]
		} else {
			// offset by the batch index so equal contents get distinct ids
			id = documentID(content, now.Add(time.Duration(i)), md)
		}

		doc := &Document{
			ID:        id,
			Content:   content,
			Embedding: slices.Clone(embeddings[i]),
			Metadata:  md,
			Timestamp: now,
		}
		if prev, exists := c.docs[id]; exists {
			doc.Seq = prev.Seq
		} else {
			doc.Seq = c.nextSeq
			c.nextSeq++
		}
		c.docs[id] = doc
		written[i] = id
	}
	s.dirty[name] = struct{}{}
	return written, nil
}

// QueryDocuments ranks the documents of a collection against each query
// embedding. Unknown collections yield one empty result list per query.
func (s *Store) QueryDocuments(name string, queries [][]float32, n int, where Filter) ([][]Result, error) {
	for i, q := range queries {
		if err := s.checkDim(q, "query embedding", i); err != nil {
			return nil, err
		}
	}
	if err := where.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultResults
	}

	out := make([][]Result, len(queries))
	for i := range out {
		out[i] = []Result{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return out, nil
	}
	candidates := c.ordered(where)

	for qi, q := range queries {
		qNorm := norm(q)
		scored := make([]Result, len(candidates))
		for i, d := range candidates {
			scored[i] = Result{Document: *d, Similarity: cosine(q, qNorm, d.Embedding)}
		}
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Similarity > scored[j].Similarity
		})
		if len(scored) > n {
			scored = scored[:n]
		}
		for i := range scored {
			scored[i].Document = scored[i].Document.clone()
		}
		out[qi] = scored
	}
	return out, nil
}

// GetDocuments returns copies of the selected documents.
func (s *Store) GetDocuments(name string, req GetRequest) ([]Document, error) {
	if err := req.Where.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return []Document{}, nil
	}

	var picked []*Document
	if req.IDs != nil {
		seen := make(map[string]bool, len(req.IDs))
		for _, id := range req.IDs {
			d, ok := c.docs[id]
			if !ok || seen[id] || !req.Where.Match(d.Metadata) {
				continue
			}
			seen[id] = true
			picked = append(picked, d)
		}
	} else {
		picked = c.ordered(req.Where)
	}

	if req.Offset > 0 {
		if req.Offset >= len(picked) {
			picked = nil
		} else {
			picked = picked[req.Offset:]
		}
	}
	if req.Limit > 0 && len(picked) > req.Limit {
		picked = picked[:req.Limit]
	}

	out := make([]Document, len(picked))
	for i, d := range picked {
		out[i] = d.clone()
	}
	return out, nil
}

// DeleteDocuments removes documents by id and returns how many existed.
func (s *Store) DeleteDocuments(name string, ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return 0
	}
	n := 0
	for _, id := range ids {
		if _, ok := c.docs[id]; ok {
			delete(c.docs, id)
			n++
		}
	}
	if n > 0 {
		s.dirty[name] = struct{}{}
	}
	return n
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		return len(c.docs)
	}
	return 0
}
