// Package vectorstore is the thin adapter spec component F describes:
// collection lifecycle, deterministic point-id derivation, upsert,
// delete-by-file-path, and distinct-file-path enumeration. The vector
// store itself (Qdrant) is an external collaborator; this package
// specifies only the operations the engine consumes from it.
//
// Grounded end to end on the teacher's internal/vectordb/qdrant.go.
package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/qdrant/go-client/qdrant"
)

// Config configures the Qdrant connection and collection.
type Config struct {
	URL            string // e.g. "http://localhost:6334" or "host:6334"
	APIKey         string
	Collection     string
	VectorSize     int
	DistanceMetric string // "cosine" | "dot" | "euclidean"
}

// Point is what the engine upserts: a vector plus its chunk payload. Id
// is derived from the chunk's string id, not carried here.
type Point struct {
	ChunkID string
	Vector  []float32
	Payload chunk.Payload
}

// Client is the vector-store adapter.
type Client struct {
	cfg    Config
	client *qdrant.Client
}

// NewClient parses cfg.URL and connects to Qdrant over gRPC. Host/port
// generalize the teacher's hardcoded "localhost:6334" to
// VECTOR_STORE_URL.
func NewClient(cfg Config) (*Client, error) {
	host, port, useTLS, err := parseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: %w", err)
	}

	qcfg := &qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	}
	if cfg.APIKey != "" {
		qcfg.APIKey = cfg.APIKey
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect to qdrant: %w", err)
	}

	return &Client{cfg: cfg, client: client}, nil
}

func parseURL(raw string) (host string, port int, useTLS bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid VECTOR_STORE_URL %q: %w", raw, err)
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("invalid VECTOR_STORE_URL %q: missing host", raw)
	}
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid VECTOR_STORE_URL %q: bad port: %w", raw, err)
		}
	}
	useTLS = u.Scheme == "https"
	return host, port, useTLS, nil
}

// EnsureCollection idempotently creates the collection if it does not
// exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	exists, err := c.CollectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.cfg.Collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(c.cfg.VectorSize),
					Distance: c.distanceMetric(),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", c.cfg.Collection, err)
	}
	log.Printf("[codeindex] created collection %s (dim=%d)", c.cfg.Collection, c.cfg.VectorSize)
	return nil
}

// CollectionExists reports whether the configured collection exists.
func (c *Client) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := c.client.CollectionExists(ctx, c.cfg.Collection)
	if err != nil {
		return false, fmt.Errorf("vectorstore: collection_exists: %w", err)
	}
	return exists, nil
}

// PointCount returns the total number of points in the collection.
func (c *Client) PointCount(ctx context.Context) (uint64, error) {
	count, err := c.client.Count(ctx, &qdrant.CountPoints{CollectionName: c.cfg.Collection})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: point_count: %w", err)
	}
	return count, nil
}

// Upsert writes points to the collection. Point ids are derived from
// ChunkID via a documented 64-bit FNV-1a hash (spec 4.F / spec 9: "make
// the hash explicit, documented, and covered by a property test").
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := map[string]*qdrant.Value{
			"file_path":  qdrant.NewValueString(p.Payload.FilePath),
			"kind":       qdrant.NewValueString(p.Payload.Kind),
			"name":       qdrant.NewValueString(p.Payload.Name),
			"language":   qdrant.NewValueString(p.Payload.Language),
			"start_line": qdrant.NewValueInt(int64(p.Payload.StartLine)),
			"end_line":   qdrant.NewValueInt(int64(p.Payload.EndLine)),
			"content":    qdrant.NewValueString(p.Payload.Content),
			"complexity": qdrant.NewValueInt(int64(p.Payload.Complexity)),
		}

		structs[i] = &qdrant.PointStruct{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Num{Num: PointID(p.ChunkID)},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		}
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.cfg.Collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Query performs a vector similarity search, returning up to limit
// payloads with scores, ordered best first.
func (c *Client) Query(ctx context.Context, vector []float32, limit int) ([]chunk.Payload, []float32, error) {
	if limit <= 0 {
		limit = 5
	}
	lim := uint64(limit)

	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &lim,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	payloads := make([]chunk.Payload, len(results))
	scores := make([]float32, len(results))
	for i, r := range results {
		scores[i] = r.Score
		payloads[i] = payloadFromFields(r.Payload)
	}
	return payloads, scores, nil
}

func payloadFromFields(fields map[string]*qdrant.Value) chunk.Payload {
	return chunk.Payload{
		FilePath:   fields["file_path"].GetStringValue(),
		Kind:       fields["kind"].GetStringValue(),
		Name:       fields["name"].GetStringValue(),
		Language:   fields["language"].GetStringValue(),
		StartLine:  int(fields["start_line"].GetIntegerValue()),
		EndLine:    int(fields["end_line"].GetIntegerValue()),
		Content:    fields["content"].GetStringValue(),
		Complexity: int(fields["complexity"].GetIntegerValue()),
	}
}

// DeleteByFilePath removes all points whose payload.file_path equals
// path. Idempotent: a no-op if none exist (e.g. first index of a file).
func (c *Client) DeleteByFilePath(ctx context.Context, path string) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.cfg.Collection,
		Points:         filePathSelector(path),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete_by_file_path(%s): %w", path, err)
	}
	return nil
}

func filePathSelector(path string) *qdrant.PointsSelector {
	return &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{fieldMatch("file_path", path)},
			},
		},
	}
}

func fieldMatch(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// scrollPageSize bounds each Scroll page when enumerating distinct file
// paths.
const scrollPageSize = 500

// DistinctFilePaths enumerates every distinct payload.file_path in the
// collection, used by the check/repair RPCs. No
// teacher equivalent exists; implemented via Qdrant's Scroll RPC,
// paginated by offset, rather than an unconfirmed facet call (see
// DESIGN.md).
func (c *Client) DistinctFilePaths(ctx context.Context) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	var offset *qdrant.PointId

	for {
		lim := uint32(scrollPageSize)
		req := &qdrant.ScrollPoints{
			CollectionName: c.cfg.Collection,
			Limit:          &lim,
			WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
			Offset:         offset,
		}
		points, err := c.client.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: distinct_file_paths scroll: %w", err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			if fp := p.Payload["file_path"].GetStringValue(); fp != "" {
				paths[fp] = struct{}{}
			}
		}
		if len(points) < scrollPageSize {
			break
		}
		offset = points[len(points)-1].Id
	}
	return paths, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Client) distanceMetric() qdrant.Distance {
	switch c.cfg.DistanceMetric {
	case "dot":
		return qdrant.Distance_Dot
	case "euclidean":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// PointID derives a deterministic, documented 64-bit point id from a
// chunk's string id via FNV-1a. Collisions are astronomically unlikely
// and treated as upsert-equivalent per spec 4.F; SPEC_FULL.md §5 records
// this as the resolved Open Question on hash collisions.
func PointID(chunkID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(chunkID))
	return h.Sum64()
}
