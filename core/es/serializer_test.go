package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONSerializer(t *testing.T) {
	r := NewRegistry(counterDef)
	ser := NewJSONSerializer(r.Events())

	eventType, data, err := ser.Serialize(&added{N: 3})
	require.NoError(t, err)
	require.Equal(t, EventTypeOf(&added{}), eventType)
	require.JSONEq(t, `{"n":3}`, string(data))

	ev, err := ser.Deserialize(eventType, data)
	require.NoError(t, err)
	require.Equal(t, &added{N: 3}, ev)

	eventType, _, err = ser.Serialize(&AggregateCreated{ID: "x"})
	require.NoError(t, err)
	require.Equal(t, EventTypeAggregateCreated, eventType)
}

func TestJSONSerializer_UnknownType(t *testing.T) {
	ser := NewJSONSerializer(nil)

	ev, err := ser.Deserialize("something.new", []byte(`{"a":1}`))
	require.NoError(t, err)
	raw, ok := ev.(*RawEvent)
	require.True(t, ok)
	require.Equal(t, "something.new", raw.EventType())

	// raw events survive a round trip untouched
	eventType, data, err := ser.Serialize(raw)
	require.NoError(t, err)
	require.Equal(t, "something.new", eventType)
	require.JSONEq(t, `{"a":1}`, string(data))
}

func TestJSONSerializer_Malformed(t *testing.T) {
	r := NewRegistry(counterDef)
	ser := NewJSONSerializer(r.Events())

	_, err := ser.Deserialize(EventTypeOf(&added{}), []byte(`{"n":`))
	require.ErrorIs(t, err, ErrSerialization)

	_, err = ser.Deserialize("unknown", []byte(`not json`))
	require.ErrorIs(t, err, ErrSerialization)

	_, _, err = ser.Serialize(func() {})
	require.ErrorIs(t, err, ErrSerialization)
}

func TestStoredStreamConversion(t *testing.T) {
	r := NewRegistry(counterDef)
	ser := NewJSONSerializer(r.Events())

	c := newCounter(t, "c1")
	require.NoError(t, c.Raise(&added{N: 2}))
	require.NoError(t, c.Raise(&unhandled{}))
	s := c.MakeStream()

	stored, err := toStoredStream(s, ser)
	require.NoError(t, err)
	require.Equal(t, "c1", stored.ID)
	require.Equal(t, "counter_id", stored.IDType)
	require.Len(t, stored.Events, 3)

	back, err := fromStoredStream(&stored, c.ID(), ser)
	require.NoError(t, err)
	require.Equal(t, &added{N: 2}, back.Events[1].Event)
	// unregistered events come back raw and replay as no-ops
	require.IsType(t, &RawEvent{}, back.Events[2].Event)

	replayed := counterDef.Rehydrate(c.ID())
	require.NoError(t, replayed.AppendStream(back))
	require.Equal(t, Version(3), replayed.Version())
	require.Equal(t, 2, replayed.N)
}
