package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agri-price-api/prediction"
	"agri-price-api/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	sum   prediction.Summary
	err   error
	calls int
}

func (f *fakeEngine) GenerateAll(context.Context) (prediction.Summary, error) {
	f.calls++
	return f.sum, f.err
}

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	msgs     []published
	err      error
	prefixes []string
}

func (f *fakePublisher) DeletePrefix(_ context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return nil
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{channel: channel, payload: data})
	return nil
}

func fixedClock() time.Time { return time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC) }

func TestCyclePublishesSummary(t *testing.T) {
	engine := &fakeEngine{sum: prediction.Summary{Pairs: 4, Generated: 2, Skipped: 1, Failed: 1}}
	pub := &fakePublisher{}
	c := &cycle{engine: engine, publisher: pub, logger: zap.NewNop(), now: fixedClock}

	c.run(context.Background())

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, services.ChannelPredictions, pub.msgs[0].channel)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &got))
	assert.Equal(t, "generated", got["event"])
	assert.Equal(t, "predictor", got["source"])
	assert.Equal(t, "2026-03-09T06:00:00Z", got["finished_at"])
	assert.EqualValues(t, 4, got["pairs"])
	assert.EqualValues(t, 2, got["generated"])
	assert.Equal(t, []string{services.PredictionsKeyPrefix}, pub.prefixes)
}

func TestCycleSkipsPublishWithoutPairs(t *testing.T) {
	pub := &fakePublisher{}
	c := &cycle{engine: &fakeEngine{}, publisher: pub, logger: zap.NewNop(), now: fixedClock}

	c.run(context.Background())

	assert.Empty(t, pub.msgs)
	assert.Empty(t, pub.prefixes)
}

func TestCycleEngineFailure(t *testing.T) {
	pub := &fakePublisher{}
	c := &cycle{engine: &fakeEngine{err: errors.New("db down")}, publisher: pub, logger: zap.NewNop(), now: fixedClock}

	c.run(context.Background())

	assert.Empty(t, pub.msgs)
	assert.Empty(t, pub.prefixes)
}

func TestCyclePublishErrorIsNotFatal(t *testing.T) {
	engine := &fakeEngine{sum: prediction.Summary{Pairs: 1, Generated: 1}}
	c := &cycle{engine: engine, publisher: &fakePublisher{err: errors.New("redis gone")}, logger: zap.NewNop(), now: fixedClock}

	c.run(context.Background())
	c.run(context.Background())

	assert.Equal(t, 2, engine.calls)
}
