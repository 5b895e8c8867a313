package storage

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestResultKey(t *testing.T) {
	id := uuid.MustParse("7b8a26c2-4c4e-4f2a-9a4f-0e62a7a1f111")
	assert.Equal(t, "results/7b8a26c2-4c4e-4f2a-9a4f-0e62a7a1f111.json", resultKey(id))
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNoSuchKey(fmt.Errorf("plain error")))
	assert.False(t, isNoSuchKey(nil))
}

func TestIsNoSuchKeyWrapped(t *testing.T) {
	err := fmt.Errorf("get result: %w", minio.ErrorResponse{Code: "NoSuchKey"})
	assert.True(t, isNoSuchKey(err))
}
