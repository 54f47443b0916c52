// Copyright 2026 © The Kaiba Authors
// SPDX-License-Identifier: Apache-2.0

// Package qdrant provides a Qdrant-backed memory.VectorStore.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/kaiba/pkg/memory"
)

// payloadIndexes are created on every collection so filters stay indexed.
var payloadIndexes = map[string]pb.FieldType{
	memory.KeyType:       pb.FieldType_FieldTypeKeyword,
	memory.KeyTags:       pb.FieldType_FieldTypeKeyword,
	memory.KeyImportance: pb.FieldType_FieldTypeFloat,
	memory.KeyCreatedAt:  pb.FieldType_FieldTypeInteger,
}

type Store struct {
	conn        *grpc.ClientConn
	client      pb.PointsClient
	collections pb.CollectionsClient
	// ensured caches collections known to exist.
	ensured sync.Map
}

// New connects to the Qdrant gRPC endpoint at addr.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %v", err)
	}
	return &Store{
		conn:        conn,
		client:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks that the server answers a collection listing.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	return err
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	if _, ok := s.ensured.Load(name); ok {
		return true, nil
	}
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	if resp.GetResult().GetExists() {
		s.ensured.Store(name, struct{}{})
		return true, nil
	}
	return false, nil
}

func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
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
		return fmt.Errorf("failed to create collection: %w", err)
	}
	for field, typ := range payloadIndexes {
		_, err := s.client.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      typ.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", field, err)
		}
	}
	s.ensured.Store(name, struct{}{})
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, points []memory.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			if val := toValue(v); val != nil {
				payload[k] = val
			}
		}
		qPoints[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, filter memory.Filter) ([]memory.SearchResult, error) {
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return nil, err
	}
	resp, err := s.client.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]memory.SearchResult, len(resp.Result))
	for i, r := range resp.Result {
		payload := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			if val, ok := fromValue(v); ok {
				payload[k] = val
			}
		}
		results[i] = memory.SearchResult{
			ID:      pointID(r.Id),
			Score:   r.Score,
			Payload: payload,
		}
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context, collection string, filter memory.Filter) (int, error) {
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return 0, err
	}
	exact := true
	resp, err := s.client.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func pointID(id *pb.PointId) string {
	if id.GetUuid() != "" {
		return id.GetUuid()
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// buildFilter maps a memory.Filter to Qdrant conditions. Tags go to Should unless all must match.
func buildFilter(f memory.Filter) *pb.Filter {
	if f.Empty() {
		return nil
	}
	out := &pb.Filter{}
	if f.Type != "" {
		out.Must = append(out.Must, keyword(memory.KeyType, string(f.Type)))
	}
	if f.MinImportance != 0 {
		gte := float64(f.MinImportance)
		out.Must = append(out.Must, fieldRange(memory.KeyImportance, &pb.Range{Gte: &gte}))
	}
	if f.CreatedAfter != nil {
		gt := float64(f.CreatedAfter.UnixMilli())
		out.Must = append(out.Must, fieldRange(memory.KeyCreatedAt, &pb.Range{Gt: &gt}))
	}
	for _, tag := range f.Tags {
		if f.MatchAllTags {
			out.Must = append(out.Must, keyword(memory.KeyTags, tag))
		} else {
			out.Should = append(out.Should, keyword(memory.KeyTags, tag))
		}
	}
	return out
}

func keyword(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func fieldRange(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: r},
		},
	}
}

func toValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case []string:
		list := make([]*pb.Value, len(val))
		for i, s := range val {
			list[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: list}}}
	}
	return nil
}

func fromValue(v *pb.Value) (any, bool) {
	switch knd := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return knd.StringValue, true
	case *pb.Value_BoolValue:
		return knd.BoolValue, true
	case *pb.Value_IntegerValue:
		return knd.IntegerValue, true
	case *pb.Value_DoubleValue:
		return knd.DoubleValue, true
	case *pb.Value_ListValue:
		out := make([]any, 0, len(knd.ListValue.GetValues()))
		for _, item := range knd.ListValue.GetValues() {
			if val, ok := fromValue(item); ok {
				out = append(out, val)
			}
		}
		return out, true
	}
	return nil, false
}

var _ memory.VectorStore = (*Store)(nil)
