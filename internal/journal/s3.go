package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the slice of the S3 client the journal uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 journals records as objects under
// raw-events/{ns}/{YYYY}/{MM}/{DD}/{message_id}.json. The date path
// keeps object listing chronological; message IDs are time-sortable
// UUIDv7, so within-day order is chronological too. The object key is
// the ref.
type S3 struct {
	client S3API
	bucket string
}

var _ Journal = (*S3)(nil)

// NewS3 builds an S3-backed journal writing to bucket.
func NewS3(client S3API, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// s3Envelope is the stored object body. Payload round-trips as base64.
type s3Envelope struct {
	Namespace string    `json:"namespace"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload"`
}

func s3Key(ns, messageID string, ts time.Time) string {
	t := ts.UTC()
	return fmt.Sprintf("raw-events/%s/%04d/%02d/%02d/%s.json",
		ns, t.Year(), t.Month(), t.Day(), messageID)
}

// Append writes the record with an If-None-Match guard so the object is
// write-once. A precondition failure falls through to the payload
// comparison.
func (j *S3) Append(ctx context.Context, ns, messageID string, ts time.Time, payload []byte) (Ref, error) {
	key := s3Key(ns, messageID, ts)
	body, err := json.Marshal(s3Envelope{
		Namespace: ns,
		MessageID: messageID,
		Timestamp: ts.UTC(),
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("append %s: %w", key, err)
	}

	_, err = j.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(j.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err == nil {
		return Ref(key), nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "PreconditionFailed" {
		return "", fmt.Errorf("append %s: %w", key, err)
	}

	existing, err := j.Get(ctx, Ref(key))
	if err != nil {
		return "", fmt.Errorf("append %s: verify existing: %w", key, err)
	}
	if !bytes.Equal(existing.Payload, payload) {
		return "", fmt.Errorf("append %s: %w", key, ErrPayloadMismatch)
	}
	return Ref(key), nil
}

// Get reads one record by ref (the object key).
func (j *S3) Get(ctx context.Context, ref Ref) (Record, error) {
	out, err := j.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(j.bucket),
		Key:    aws.String(string(ref)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return Record{}, fmt.Errorf("get %s: %w", ref, ErrNotFound)
		}
		return Record{}, fmt.Errorf("get %s: %w", ref, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", ref, err)
	}
	var env s3Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Record{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return Record{
		Ref:       ref,
		Namespace: env.Namespace,
		MessageID: env.MessageID,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}, nil
}

// List pages ascending through ns records with from <= ts <= to.
// Listing walks the key space in order and fetches each object to apply
// the exact time bounds; the date path limits how far a bounded listing
// reads.
func (j *S3) List(ctx context.Context, ns string, from, to time.Time, after Ref, limit int) ([]Record, Ref, error) {
	if limit <= 0 {
		limit = 100
	}
	prefix := "raw-events/" + ns + "/"

	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(j.bucket),
		Prefix: aws.String(prefix),
	}
	if after != "" {
		in.StartAfter = aws.String(string(after))
	} else if !from.IsZero() {
		// Skip whole days before the lower bound.
		t := from.UTC()
		in.StartAfter = aws.String(fmt.Sprintf("%s%04d/%02d/%02d/", prefix, t.Year(), t.Month(), t.Day()))
	}

	var recs []Record
	for {
		out, err := j.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, "", fmt.Errorf("list %s: %w", ns, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			rec, err := j.Get(ctx, Ref(key))
			if err != nil {
				return nil, "", fmt.Errorf("list %s: %w", ns, err)
			}
			if !from.IsZero() && rec.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && rec.Timestamp.After(to) {
				// Keys sort by date only; later keys in the same day
				// may still be in range, so keep scanning the page.
				continue
			}
			recs = append(recs, rec)
			if len(recs) == limit {
				return recs, rec.Ref, nil
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			return recs, "", nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

// Close is a no-op; the S3 client carries no journal-owned resources.
func (j *S3) Close() error {
	return nil
}
