package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/school-search/internal/school"
)

type sliceSource struct {
	records []school.Record
	err     error
}

func (s *sliceSource) Each(_ context.Context, fn func(school.Record) error) error {
	if s.err != nil {
		return s.err
	}
	for _, r := range s.records {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func encode(t *testing.T, ev ingestion.ReloadEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

var records = []school.Record{
	{ID: "1", Name: "Highland Park Elementary School", City: "Muscle Shoals", State: "AL"},
	{ID: "2", Name: "Foley High School", City: "Foley", State: "AL"},
}

func TestHandleMessageRebuildsFromStore(t *testing.T) {
	engine := indexer.NewEngine(nil)
	src := &sliceSource{records: records}
	reloads := 0
	handle := HandleMessage(engine, src, "replica-b", func(context.Context, indexer.BuildStats) { reloads++ })

	err := handle(context.Background(), []byte("replica-a"), encode(t, ingestion.ReloadEvent{InstanceID: "replica-a", Records: 2}))

	require.NoError(t, err)
	assert.True(t, engine.Ready())
	assert.Equal(t, 2, engine.DocCount())
	assert.Equal(t, 1, reloads)
}

func TestHandleMessageIgnoresOwnEvents(t *testing.T) {
	engine := indexer.NewEngine(nil)
	handle := HandleMessage(engine, &sliceSource{records: records}, "replica-a", nil)

	require.NoError(t, handle(context.Background(), nil, encode(t, ingestion.ReloadEvent{InstanceID: "replica-a"})))

	assert.False(t, engine.Ready())
}

func TestHandleMessageDropsUndecodableEvents(t *testing.T) {
	engine := indexer.NewEngine(nil)
	handle := HandleMessage(engine, &sliceSource{records: records}, "replica-b", nil)

	assert.NoError(t, handle(context.Background(), nil, []byte("{not json")))
	assert.False(t, engine.Ready())
}

func TestHandleMessageKeepsIndexWhenStoreFails(t *testing.T) {
	engine := indexer.NewEngine(nil)
	engine.IndexData(records)
	handle := HandleMessage(engine, &sliceSource{err: errors.New("database is locked")}, "replica-b", nil)

	err := handle(context.Background(), nil, encode(t, ingestion.ReloadEvent{InstanceID: "replica-a"}))

	assert.Error(t, err)
	assert.Equal(t, uint64(1), engine.Generation())
	assert.Equal(t, 2, engine.DocCount())
}
