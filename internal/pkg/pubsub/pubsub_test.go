package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return client, cleanup
}

var allSteps = []string{StepCleaning, StepStatistics, StepAnomalies, StepVisualizations, StepInsights, StepSQL, StepDone}

func TestStepProgress(t *testing.T) {
	for _, step := range allSteps {
		progress, ok := StepProgress[step]
		assert.True(t, ok, "Step %s should have progress value", step)
		assert.Greater(t, progress, 0, "Progress for %s should be > 0", step)
		assert.LessOrEqual(t, progress, 100, "Progress for %s should be <= 100", step)
	}

	// 进度单调递增
	for i := 1; i < len(allSteps); i++ {
		assert.Less(t, StepProgress[allSteps[i-1]], StepProgress[allSteps[i]])
	}
	assert.Equal(t, 100, StepProgress[StepDone])
}

func TestStepMessages(t *testing.T) {
	for _, step := range allSteps {
		msg, ok := StepMessages[step]
		assert.True(t, ok, "Step %s should have message", step)
		assert.NotEmpty(t, msg, "Message for %s should not be empty", step)
	}
}

func TestProgressMessage_JSON(t *testing.T) {
	msg := &ProgressMessage{
		Type:       "job_progress",
		DatasetID:  1,
		AnalysisID: 2,
		JobID:      3,
		Status:     "processing",
		Step:       StepAnomalies,
		Progress:   45,
		Message:    "Detecting",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	err = json.Unmarshal(data, &raw)
	require.NoError(t, err)

	assert.Contains(t, raw, "dataset_id")
	assert.Contains(t, raw, "analysis_id")
	assert.Contains(t, raw, "job_id")

	_, hasError := raw["error"]
	assert.False(t, hasError, "empty error should be omitted")
}

func TestPublisherSubscriber(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	go func() {
		subscriber.Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, ChannelAnalysisProgress).Result()
		return err == nil && n[ChannelAnalysisProgress] > 0
	}, 2*time.Second, 10*time.Millisecond)

	msg := &ProgressMessage{
		DatasetID:  123,
		AnalysisID: 456,
		JobID:      789,
		Status:     "processing",
		Step:       StepVisualizations,
	}
	require.NoError(t, publisher.PublishProgress(ctx, msg))

	select {
	case got := <-received:
		assert.Equal(t, msg.DatasetID, got.DatasetID)
		assert.Equal(t, msg.AnalysisID, got.AnalysisID)
		assert.Equal(t, msg.JobID, got.JobID)
		assert.Equal(t, "job_progress", got.Type)
		assert.Equal(t, 60, got.Progress)
		assert.Equal(t, StepMessages[StepVisualizations], got.Message)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

func TestPublisher_KeepsExplicitProgress(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	msg := &ProgressMessage{Step: StepCleaning, Progress: 5, Message: "custom"}
	require.NoError(t, NewPublisher(client).PublishProgress(context.Background(), msg))

	assert.Equal(t, 5, msg.Progress)
	assert.Equal(t, "custom", msg.Message)
	assert.Equal(t, "job_progress", msg.Type)
}
