package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant implements Store against a Qdrant instance over gRPC.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// NewQdrant connects to a Qdrant gRPC endpoint. Scheme prefixes are
// tolerated since QDRANT_URL often arrives as a full URL.
func NewQdrant(url string) (*Qdrant, error) {
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// EnsureCollection implements Store.
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dimension int) error {
	listResp, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == name {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

var waitTrue = true

// Upsert implements Store.
func (q *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	pbPoints := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		// Qdrant point IDs must be UUIDs or integers. Arbitrary chunk IDs
		// map deterministically so re-ingesting overwrites in place; the
		// original ID survives in the payload.
		pointID := p.ID
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID)).String()
		}

		pbPoints = append(pbPoints, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"content":  {Kind: &pb.Value_StringValue{StringValue: p.Text}},
				"source":   {Kind: &pb.Value_StringValue{StringValue: p.Source}},
				"chunk_id": {Kind: &pb.Value_StringValue{StringValue: p.ID}},
			},
		})
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         pbPoints,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search implements Store.
func (q *Qdrant) Search(ctx context.Context, collection string, vec []float32, topK int) ([]Hit, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hit := Hit{
			ID:    point.Id.GetUuid(),
			Score: float64(point.Score),
		}
		if payload := point.Payload; payload != nil {
			if v, ok := payload["content"]; ok {
				hit.Text = v.GetStringValue()
			}
			if v, ok := payload["source"]; ok {
				hit.Source = v.GetStringValue()
			}
			if v, ok := payload["chunk_id"]; ok && v.GetStringValue() != "" {
				hit.ID = v.GetStringValue()
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteCollection implements Store.
func (q *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
