package ingest_test

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"

	"bandaid/internal/ingest"
	"bandaid/internal/logging"
	"bandaid/internal/services"
)

type fakeReader struct {
	messages  []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.messages) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakeSubmitter struct {
	refs []string
	errs map[string]error
}

func (f *fakeSubmitter) SubmitPoster(ctx context.Context, imageRef string) (string, error) {
	f.refs = append(f.refs, imageRef)
	if err := f.errs[imageRef]; err != nil {
		return "", err
	}
	return "some-slug", nil
}

func msg(payload string) kafka.Message {
	return kafka.Message{Value: []byte(payload)}
}

func TestRunSubmitsPutObjectEvents(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		msg(`{"action":"PutObject","object":{"key":"uploads/a.png"}}`),
		msg(`{"action":"DeleteObject","object":{"key":"uploads/b.png"}}`),
		msg(`{"action":"PutObject","object":{"key":"uploads/c.jpg"}}`),
	}}
	submitter := &fakeSubmitter{}
	consumer := ingest.NewConsumer(reader, submitter, logging.NewNop())

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(submitter.refs) != 2 {
		t.Fatalf("refs = %v", submitter.refs)
	}
	if submitter.refs[0] != "s3://uploads/a.png" || submitter.refs[1] != "s3://uploads/c.jpg" {
		t.Fatalf("refs = %v", submitter.refs)
	}
	if len(reader.committed) != 3 {
		t.Fatalf("committed = %d, want every message committed", len(reader.committed))
	}
}

func TestRunCommitsFailedSubmissions(t *testing.T) {
	conflict := services.Wrap(services.ErrConflict, "registry", "submit", "slug already exists", nil)
	notFound := services.Wrap(services.ErrNotFound, "extraction", "extract", "no usable metadata in image", nil)
	reader := &fakeReader{messages: []kafka.Message{
		msg(`{"action":"PutObject","object":{"key":"uploads/dup.png"}}`),
		msg(`{"action":"PutObject","object":{"key":"uploads/blank.png"}}`),
		msg(`not json`),
	}}
	submitter := &fakeSubmitter{errs: map[string]error{
		"s3://uploads/dup.png":   conflict,
		"s3://uploads/blank.png": notFound,
	}}
	consumer := ingest.NewConsumer(reader, submitter, logging.NewNop())

	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Duplicates, skips, and garbage all commit; the consumer never wedges
	// on a poison message.
	if len(reader.committed) != 3 {
		t.Fatalf("committed = %d", len(reader.committed))
	}
}

func TestCloseClosesReader(t *testing.T) {
	reader := &fakeReader{}
	consumer := ingest.NewConsumer(reader, &fakeSubmitter{}, logging.NewNop())
	if err := consumer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !reader.closed {
		t.Fatal("reader not closed")
	}
}
