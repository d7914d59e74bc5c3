package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scouthub/backend/internal/models"
)

func TestKeyFor(t *testing.T) {
	assert.Equal(t, QueueEmails, KeyFor(JobTypeEmail))
	assert.Equal(t, QueueAudit, KeyFor(JobTypeAuditRetry))
	assert.Equal(t, QueueAudit, KeyFor(JobTypeAuditArchive))
}

func TestNewJobCarriesPayload(t *testing.T) {
	entry := models.AuditEntry{
		ID:       uuid.New(),
		Action:   models.ActionUserLogin,
		Category: models.CategoryLogin,
	}
	job, err := NewJob(JobTypeAuditRetry, AuditRetryPayload{Entry: entry})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 0, job.Attempt)
	assert.WithinDuration(t, time.Now(), job.CreatedAt, time.Minute)

	var got AuditRetryPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, entry.ID, got.Entry.ID)
	assert.Equal(t, models.CategoryLogin, got.Entry.Category)
}
