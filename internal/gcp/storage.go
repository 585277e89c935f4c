package gcp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// ObjectURI formats a gs:// URI.
func ObjectURI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// HashBytes returns the hex sha256 of data. Jobs are deduplicated on it.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsPreconditionFailed reports whether err is a GCS 412, which a
// DoesNotExist write returns when the object is already there.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ReadObject downloads a whole object, refusing anything larger than maxBytes.
func ReadObject(ctx context.Context, bucket *storage.BucketHandle, objectName string, maxBytes int64) ([]byte, error) {
	reader, err := bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get GCS object reader for %s", objectName)
	}
	defer reader.Close()

	if maxBytes > 0 && reader.Attrs.Size > maxBytes {
		return nil, errors.Newf("object %s is %d bytes, limit is %d", objectName, reader.Attrs.Size, maxBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read GCS object %s", objectName)
	}
	return data, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure: re-delivered events produce the same archive.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping write.", "gcsObject", objectName)
			return nil
		}
		return errors.Wrap(err, "failed to write to GCS")
	}

	if err := writer.Close(); err != nil {
		if IsPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping write.", "gcsObject", objectName)
			return nil
		}
		return errors.Wrap(err, "failed to finalize GCS write")
	}
	return nil
}
