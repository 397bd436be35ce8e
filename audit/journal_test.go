package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tutorpay/core/types"
)

type testEvent struct {
	evt *types.Event
}

func (e testEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e testEvent) Event() *types.Event { return e.evt }

type bareEvent struct{ kind string }

func (e bareEvent) EventType() string { return e.kind }

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, journal.Close()) })
	return journal
}

func TestJournalRecordsEventsInOrder(t *testing.T) {
	journal := openTestJournal(t)

	journal.Emit(testEvent{evt: &types.Event{
		Type:       "escrow.opened",
		Attributes: map[string]string{"sessionId": "S1", "amount": "1000"},
	}})
	journal.Emit(testEvent{evt: &types.Event{
		Type:       "escrow.released",
		Attributes: map[string]string{"sessionId": "S1"},
	}})

	entries, err := journal.Events("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "escrow.opened", entries[0].Type)
	require.Equal(t, "escrow.released", entries[1].Type)
	require.Less(t, entries[0].Seq, entries[1].Seq)
	require.Equal(t, "1000", entries[0].Attributes["amount"])
	require.Equal(t, "S1", entries[1].Attributes["sessionId"])
}

func TestJournalFiltersByType(t *testing.T) {
	journal := openTestJournal(t)

	journal.Emit(testEvent{evt: &types.Event{Type: "escrow.opened", Attributes: map[string]string{"sessionId": "S1"}}})
	journal.Emit(testEvent{evt: &types.Event{Type: "escrow.opened", Attributes: map[string]string{"sessionId": "S2"}}})
	journal.Emit(testEvent{evt: &types.Event{Type: "escrow.cancelled", Attributes: map[string]string{"sessionId": "S1"}}})

	count, err := journal.Count("escrow.opened")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	total, err := journal.Count("")
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	entries, err := journal.Events("escrow.cancelled")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "S1", entries[0].Attributes["sessionId"])
}

func TestJournalToleratesBareEvents(t *testing.T) {
	journal := openTestJournal(t)

	journal.Emit(bareEvent{kind: "registry.claimed"})

	entries, err := journal.Events("registry.claimed")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Empty(t, entries[0].Attributes)
}

func TestJournalIgnoresNilEvent(t *testing.T) {
	journal := openTestJournal(t)

	journal.Emit(nil)

	count, err := journal.Count("")
	require.NoError(t, err)
	require.Zero(t, count)
}
