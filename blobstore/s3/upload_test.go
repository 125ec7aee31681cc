package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultUploadConfig(t *testing.T) {
	cfg := DefaultUploadConfig()
	assert.Equal(t, int64(8*1024*1024), cfg.PartSize)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.False(t, cfg.LeavePartsOnError)
}
