package compat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeanpaul/companionstore/internal/vector"
)

// ErrInvalidInclude reports an unknown include field.
var ErrInvalidInclude = errors.New("invalid include field")

// Include selects the parts of each hit returned by Query and Get.
type Include string

const (
	IncludeDocuments  Include = "documents"
	IncludeMetadatas  Include = "metadatas"
	IncludeEmbeddings Include = "embeddings"
	IncludeDistances  Include = "distances"
)

var (
	defaultQueryInclude = []Include{IncludeDocuments, IncludeMetadatas, IncludeDistances}
	defaultGetInclude   = []Include{IncludeDocuments, IncludeMetadatas}
)

type includeSet struct {
	documents, metadatas, embeddings, distances bool
}

func parseInclude(include, fallback []Include, allowDistances bool) (includeSet, error) {
	if include == nil {
		include = fallback
	}
	var set includeSet
	for _, inc := range include {
		switch inc {
		case IncludeDocuments:
			set.documents = true
		case IncludeMetadatas:
			set.metadatas = true
		case IncludeEmbeddings:
			set.embeddings = true
		case IncludeDistances:
			if !allowDistances {
				return set, fmt.Errorf("%w: %q is only valid for queries", ErrInvalidInclude, inc)
			}
			set.distances = true
		default:
			return set, fmt.Errorf("%w: %q", ErrInvalidInclude, inc)
		}
	}
	return set, nil
}

// Chroma is a Chroma-style client backed by a vector store.
type Chroma struct {
	store *vector.Store
	exec  *Executor
}

func NewChroma(store *vector.Store, exec *Executor) *Chroma {
	if exec == nil {
		exec = NewExecutor(0)
	}
	return &Chroma{store: store, exec: exec}
}

// Collection is a handle on a named collection. It stays usable after the
// collection is deleted: Add recreates it, reads see it empty.
type Collection struct {
	ID        string
	Name      string
	Metadata  map[string]any
	CreatedAt time.Time

	client *Chroma
}

func (c *Chroma) handle(info vector.CollectionInfo) *Collection {
	return &Collection{
		ID:        info.ID,
		Name:      info.Name,
		Metadata:  info.Metadata.Map(),
		CreatedAt: info.CreatedAt,
		client:    c,
	}
}

// Heartbeat reports the server time in nanoseconds, like the Chroma endpoint.
func (c *Chroma) Heartbeat(ctx context.Context) (int64, error) {
	return run(ctx, c.exec, func() (int64, error) {
		return time.Now().UnixNano(), nil
	})
}

// CreateCollection fails with vector.ErrAlreadyExists when the name is taken.
func (c *Chroma) CreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error) {
	md, err := vector.MetadataOf(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrInvalidMetadata, err)
	}
	info, err := run(ctx, c.exec, func() (vector.CollectionInfo, error) {
		return c.store.CreateCollection(name, md)
	})
	if err != nil {
		return nil, err
	}
	return c.handle(info), nil
}

// GetCollection fails with vector.ErrNotFound when the collection is absent.
func (c *Chroma) GetCollection(ctx context.Context, name string) (*Collection, error) {
	info, err := run(ctx, c.exec, func() (vector.CollectionInfo, error) {
		info, ok := c.store.GetCollection(name)
		if !ok {
			return info, fmt.Errorf("%w: %q", vector.ErrNotFound, name)
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return c.handle(info), nil
}

// GetOrCreateCollection returns the existing collection or creates it with
// metadata. Metadata is ignored when the collection exists.
func (c *Chroma) GetOrCreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error) {
	md, err := vector.MetadataOf(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrInvalidMetadata, err)
	}
	info, err := run(ctx, c.exec, func() (vector.CollectionInfo, error) {
		if info, ok := c.store.GetCollection(name); ok {
			return info, nil
		}
		info, err := c.store.CreateCollection(name, md)
		if errors.Is(err, vector.ErrAlreadyExists) {
			// lost a race with another creator
			if info, ok := c.store.GetCollection(name); ok {
				return info, nil
			}
		}
		return info, err
	})
	if err != nil {
		return nil, err
	}
	return c.handle(info), nil
}

// ListCollections returns handles for every collection, sorted by name.
func (c *Chroma) ListCollections(ctx context.Context) ([]*Collection, error) {
	infos, err := run(ctx, c.exec, func() ([]vector.CollectionInfo, error) {
		names := c.store.ListCollections()
		infos := make([]vector.CollectionInfo, 0, len(names))
		for _, name := range names {
			if info, ok := c.store.GetCollection(name); ok {
				infos = append(infos, info)
			}
		}
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Collection, len(infos))
	for i, info := range infos {
		out[i] = c.handle(info)
	}
	return out, nil
}

func (c *Chroma) DeleteCollection(ctx context.Context, name string) error {
	_, err := run(ctx, c.exec, func() (struct{}, error) {
		return struct{}{}, c.store.DeleteCollection(name)
	})
	return err
}

// AddRequest carries parallel arrays. IDs and Metadatas may be nil.
type AddRequest struct {
	IDs        []string
	Embeddings [][]float32
	Documents  []string
	Metadatas  []map[string]any
}

// Add upserts documents and returns their ids.
func (col *Collection) Add(ctx context.Context, req AddRequest) ([]string, error) {
	var metas []vector.Metadata
	if req.Metadatas != nil {
		metas = make([]vector.Metadata, len(req.Metadatas))
		for i, m := range req.Metadatas {
			md, err := vector.MetadataOf(m)
			if err != nil {
				return nil, fmt.Errorf("%w: document %d: %w", vector.ErrInvalidMetadata, i, err)
			}
			metas[i] = md
		}
	}
	return run(ctx, col.client.exec, func() ([]string, error) {
		return col.client.store.AddDocuments(col.Name, req.Documents, req.Embeddings, metas, req.IDs)
	})
}

// QueryRequest ranks the collection against each query embedding. Where uses
// the Chroma where shape. Include defaults to documents, metadatas and
// distances.
type QueryRequest struct {
	QueryEmbeddings [][]float32
	NResults        int
	Where           map[string]any
	Include         []Include
}

// QueryResult holds one row per query embedding. Fields not included are nil.
// Distances are 1 - cosine similarity.
type QueryResult struct {
	IDs        [][]string
	Documents  [][]string
	Metadatas  [][]map[string]any
	Embeddings [][][]float32
	Distances  [][]float64
}

func (col *Collection) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	set, err := parseInclude(req.Include, defaultQueryInclude, true)
	if err != nil {
		return nil, err
	}
	where, err := vector.ParseWhere(req.Where)
	if err != nil {
		return nil, err
	}
	rows, err := run(ctx, col.client.exec, func() ([][]vector.Result, error) {
		return col.client.store.QueryDocuments(col.Name, req.QueryEmbeddings, req.NResults, where)
	})
	if err != nil {
		return nil, err
	}

	res := &QueryResult{IDs: make([][]string, len(rows))}
	if set.documents {
		res.Documents = make([][]string, len(rows))
	}
	if set.metadatas {
		res.Metadatas = make([][]map[string]any, len(rows))
	}
	if set.embeddings {
		res.Embeddings = make([][][]float32, len(rows))
	}
	if set.distances {
		res.Distances = make([][]float64, len(rows))
	}
	for i, hits := range rows {
		res.IDs[i] = make([]string, len(hits))
		if set.documents {
			res.Documents[i] = make([]string, len(hits))
		}
		if set.metadatas {
			res.Metadatas[i] = make([]map[string]any, len(hits))
		}
		if set.embeddings {
			res.Embeddings[i] = make([][]float32, len(hits))
		}
		if set.distances {
			res.Distances[i] = make([]float64, len(hits))
		}
		for j, h := range hits {
			res.IDs[i][j] = h.ID
			if set.documents {
				res.Documents[i][j] = h.Content
			}
			if set.metadatas {
				res.Metadatas[i][j] = h.Metadata.Map()
			}
			if set.embeddings {
				res.Embeddings[i][j] = h.Embedding
			}
			if set.distances {
				res.Distances[i][j] = 1 - h.Similarity
			}
		}
	}
	return res, nil
}

// GetRequest selects documents by id and/or where filter. Limit zero means
// no limit. Include defaults to documents and metadatas.
type GetRequest struct {
	IDs     []string
	Where   map[string]any
	Limit   int
	Offset  int
	Include []Include
}

// GetResult lists the selected documents. Fields not included are nil.
type GetResult struct {
	IDs        []string
	Documents  []string
	Metadatas  []map[string]any
	Embeddings [][]float32
}

func (col *Collection) Get(ctx context.Context, req GetRequest) (*GetResult, error) {
	set, err := parseInclude(req.Include, defaultGetInclude, false)
	if err != nil {
		return nil, err
	}
	where, err := vector.ParseWhere(req.Where)
	if err != nil {
		return nil, err
	}
	docs, err := run(ctx, col.client.exec, func() ([]vector.Document, error) {
		return col.client.store.GetDocuments(col.Name, vector.GetRequest{
			IDs:    req.IDs,
			Where:  where,
			Limit:  req.Limit,
			Offset: req.Offset,
		})
	})
	if err != nil {
		return nil, err
	}

	res := &GetResult{IDs: make([]string, len(docs))}
	if set.documents {
		res.Documents = make([]string, len(docs))
	}
	if set.metadatas {
		res.Metadatas = make([]map[string]any, len(docs))
	}
	if set.embeddings {
		res.Embeddings = make([][]float32, len(docs))
	}
	for i, d := range docs {
		res.IDs[i] = d.ID
		if set.documents {
			res.Documents[i] = d.Content
		}
		if set.metadatas {
			res.Metadatas[i] = d.Metadata.Map()
		}
		if set.embeddings {
			res.Embeddings[i] = d.Embedding
		}
	}
	return res, nil
}

// Delete removes documents by id and returns how many existed.
func (col *Collection) Delete(ctx context.Context, ids ...string) (int, error) {
	return run(ctx, col.client.exec, func() (int, error) {
		return col.client.store.DeleteDocuments(col.Name, ids), nil
	})
}

func (col *Collection) Count(ctx context.Context) (int, error) {
	return run(ctx, col.client.exec, func() (int, error) {
		return col.client.store.CountDocuments(col.Name), nil
	})
}
