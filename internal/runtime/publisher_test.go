package runtime

import (
	"context"
	"errors"
	"testing"

	errspkg "github.com/drblury/userflow/internal/runtime/errors"
	idspkg "github.com/drblury/userflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

type publisherTestContextKey struct{}

func TestNewRecordMessage(t *testing.T) {
	md := metadatapkg.Metadata{"origin": "unit"}
	msg := NewRecordMessage("key-1", []byte(`{"id":"1"}`), md)

	if msg.UUID != "key-1" {
		t.Fatalf("expected key as envelope id, got %q", msg.UUID)
	}
	if msg.Metadata.Get(metadatapkg.KeyRecordKey) != "key-1" {
		t.Fatal("expected record key header")
	}
	if msg.Metadata.Get("origin") != "unit" {
		t.Fatalf("expected metadata to be preserved, got %#v", msg.Metadata)
	}
	if _, ok := md[metadatapkg.KeyRecordKey]; ok {
		t.Fatal("caller metadata must not be mutated")
	}
}

func TestNewRecordMessageGeneratesKey(t *testing.T) {
	first := NewRecordMessage("", nil, nil)
	second := NewRecordMessage("", nil, nil)

	if !idspkg.IsCorrelationKey(first.UUID) {
		t.Fatalf("expected UUID v4 key, got %q", first.UUID)
	}
	if first.UUID == second.UUID {
		t.Fatal("expected a fresh key per record")
	}
	if first.Metadata.Get(metadatapkg.KeyRecordKey) != first.UUID {
		t.Fatal("expected generated key in record key header")
	}
}

func TestPublishRecord(t *testing.T) {
	pub := &testPublisher{}
	ctx := context.WithValue(context.Background(), publisherTestContextKey{}, "value")

	if err := PublishRecord(ctx, pub, "user-created", "key-1", []byte("{}"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected single publish, got %d", len(msgs))
	}
	if msgs[0].topic != "user-created" {
		t.Fatalf("unexpected topic %q", msgs[0].topic)
	}
	if msgs[0].msg.Context().Value(publisherTestContextKey{}) != "value" {
		t.Fatal("expected context to be attached to the envelope")
	}
}

func TestPublishRecordValidations(t *testing.T) {
	if err := PublishRecord(context.Background(), nil, "topic", "", nil, nil); !errors.Is(err, errspkg.ErrPublisherRequired) {
		t.Fatalf("expected ErrPublisherRequired, got %v", err)
	}
	if err := PublishRecord(context.Background(), &testPublisher{}, "", "", nil, nil); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
}

func TestPublishRecordPropagatesPublisherError(t *testing.T) {
	boom := errors.New("broker down")
	err := PublishRecord(context.Background(), &testPublisher{err: boom}, "topic", "", nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected publisher error, got %v", err)
	}
}

func TestServicePublishRecord(t *testing.T) {
	var nilSvc *Service
	if err := nilSvc.PublishRecord(context.Background(), "topic", "", nil, nil); err == nil {
		t.Fatal("expected error for nil service")
	}

	svc := newTestService(t)
	if err := svc.PublishRecord(context.Background(), "topic", "k", []byte("{}"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(svc.publisher.(*testPublisher).Messages()); got != 1 {
		t.Fatalf("expected one published record, got %d", got)
	}
}
