package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToMediumSeverity(t *testing.T) {
	err := New(CategoryParse, "protocol", "decode", "bad frame")
	assert.Equal(t, SeverityMedium, err.Severity)
	assert.False(t, err.IsFatal())
}

func TestConfigurationCategoryIsFatal(t *testing.T) {
	err := New(CategoryConfiguration, "config", "load", "missing field")
	assert.True(t, err.IsFatal())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New(CategoryPersistentIO, "transport", "write", "write failed").Wrap(cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestToFieldsIncludesRcptIDAndMetadata(t *testing.T) {
	err := New(CategoryQueueFull, "queue", "push_tail", "dropped").
		WithRcptID(42).
		WithSourceLocation("dest.kafka:12").
		WithMetadata("queue_name", "d_kafka")

	fields := err.ToFields()
	assert.EqualValues(t, 42, fields["rcpt_id"])
	assert.Equal(t, "dest.kafka:12", fields["source_location"])
	assert.Equal(t, "d_kafka", fields["meta_queue_name"])
}
