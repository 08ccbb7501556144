package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulbook-dev/haulbook/internal/allocation"
	"github.com/haulbook-dev/haulbook/internal/model"
)

func sampleWarning() allocation.Warning {
	return allocation.Warning{
		Kind:             allocation.PartialDistribution,
		LedgerEntryID:    "le-1",
		CounterpartyKind: model.KindSupplier,
		Counterparty:     "Acme",
		Amount:           decimal.NewFromInt(2000),
		Placed:           decimal.NewFromInt(1500),
		Message:          "placed 1500.00 of 2000.00",
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestLog(t *testing.T) {
	logger, hook := test.NewNullLogger()

	require.NoError(t, NewLog(logger).Notify(context.Background(), sampleWarning()))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "placed 1500.00 of 2000.00", entry.Message)
	assert.Equal(t, "1500", entry.Data["placed"])
}

func TestKafka(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w)
	k.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, k.Notify(context.Background(), sampleWarning()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "supplier:Acme", string(msg.Key))
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "partial_distribution", ev.Kind)
	assert.Equal(t, "le-1", ev.LedgerEntryID)
	assert.True(t, ev.Placed.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 2024, ev.At.Year())

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafka_WriteError(t *testing.T) {
	k := NewKafkaWithWriter(&fakeWriter{err: errors.New("broker down")})
	err := k.Notify(context.Background(), sampleWarning())
	assert.ErrorContains(t, err, "broker down")
}

func TestMulti(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ok := &fakeWriter{}
	m := Multi{
		NewKafkaWithWriter(&fakeWriter{err: errors.New("broker down")}),
		NewLog(logger),
		NewKafkaWithWriter(ok),
	}

	err := m.Notify(context.Background(), sampleWarning())
	assert.Error(t, err)
	assert.Len(t, hook.AllEntries(), 1)
	assert.Len(t, ok.msgs, 1, "later notifiers still run")
}
