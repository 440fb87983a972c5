package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListFlags(t *testing.T) {
	req, useJSON, err := parseListFlags([]string{"--account=a@example.com", "--limit=5", "--offset=10", "--json"})
	require.NoError(t, err)
	assert.True(t, useJSON)
	assert.Equal(t, "a@example.com", req.AccountID)
	assert.Equal(t, 5, req.Limit)
	assert.Equal(t, 10, req.Offset)
	assert.Nil(t, req.CreatedAfter)
	assert.Nil(t, req.CreatedBefore)
	assert.False(t, req.NewestFirst)
}

func TestParseListFlags_DateRange(t *testing.T) {
	req, _, err := parseListFlags([]string{"--after=2024-01-01", "--before=2024-02-01T12:00:00Z", "--newest"})
	require.NoError(t, err)
	require.NotNil(t, req.CreatedAfter)
	require.NotNil(t, req.CreatedBefore)
	assert.True(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local).Equal(*req.CreatedAfter))
	assert.True(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC).Equal(*req.CreatedBefore))
	assert.True(t, req.NewestFirst)
	assert.Equal(t, 100, req.Limit)
}

func TestParseListFlags_RejectsBadDate(t *testing.T) {
	_, _, err := parseListFlags([]string{"--before=last week"})
	assert.ErrorContains(t, err, "--before")
}
