package dlr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantecinfox/smpp-gateway/internal/store"
	"github.com/mantecinfox/smpp-gateway/pkg/codes"
)

func TestParseReceipt(t *testing.T) {
	body := "id:ABC123 sub:001 dlvrd:001 submit date:2601011200 done date:2601011201 stat:DELIVRD err:000 vendor:custom"

	r := ParseReceipt(body)

	assert.Equal(t, "ABC123", r.ID())
	assert.Equal(t, "DELIVRD", r.Stat())
	// Unknown keys are preserved, not rejected.
	assert.Equal(t, "custom", r.Fields["vendor"])
	// Tokens without a colon are ignored, split tokens keep their value part.
	assert.Equal(t, "2601011201", r.Fields["date"])
}

func TestMapStatus(t *testing.T) {
	cases := map[string]string{
		"DELIVRD": codes.MsgStatusDelivered,
		"EXPIRED": codes.MsgStatusFailed,
		"DELETED": codes.MsgStatusFailed,
		"UNDELIV": codes.MsgStatusFailed,
		"REJECTD": codes.MsgStatusFailed,
		"ACCEPTD": codes.MsgStatusPending,
		"ENROUTE": codes.MsgStatusPending,
		"BOGUSST": codes.MsgStatusPending,
		"":        codes.MsgStatusPending,
	}

	for stat, want := range cases {
		assert.Equal(t, want, MapStatus(stat), "stat %q", stat)
	}
}

type fakeUpdater struct {
	messages map[string]store.Message
	updates  map[int64]string
	lookups  int
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{
		messages: make(map[string]store.Message),
		updates:  make(map[int64]string),
	}
}

func (f *fakeUpdater) GetMessageByProviderID(_ context.Context, providerMsgID string) (store.Message, error) {
	f.lookups++
	msg, ok := f.messages[providerMsgID]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return msg, nil
}

func (f *fakeUpdater) UpdateMessageStatus(_ context.Context, id int64, status string) error {
	f.updates[id] = status
	return nil
}

func TestCorrelator_Process_Delivered(t *testing.T) {
	upd := newFakeUpdater()
	upd.messages["PROV1"] = store.Message{ID: 10, Status: codes.MsgStatusSent}

	c := NewCorrelator(upd)
	err := c.Process(context.Background(), "id:PROV1 stat:DELIVRD err:000")
	require.NoError(t, err)

	assert.Equal(t, codes.MsgStatusDelivered, upd.updates[10])
}

func TestCorrelator_Process_UnknownID_NoMutation(t *testing.T) {
	upd := newFakeUpdater()

	c := NewCorrelator(upd)
	err := c.Process(context.Background(), "id:GHOST stat:DELIVRD")
	require.NoError(t, err)

	assert.Equal(t, 1, upd.lookups)
	assert.Empty(t, upd.updates)
}

func TestCorrelator_Process_MissingID_NoLookup(t *testing.T) {
	upd := newFakeUpdater()

	c := NewCorrelator(upd)
	err := c.Process(context.Background(), "stat:DELIVRD err:000")
	require.NoError(t, err)

	assert.Zero(t, upd.lookups)
	assert.Empty(t, upd.updates)
}

func TestCorrelator_Process_UnknownStatStaysPending(t *testing.T) {
	upd := newFakeUpdater()
	upd.messages["PROV2"] = store.Message{ID: 11, Status: codes.MsgStatusSent}

	c := NewCorrelator(upd)
	require.NoError(t, c.Process(context.Background(), "id:PROV2 stat:WEIRDST"))

	assert.Equal(t, codes.MsgStatusPending, upd.updates[11])
}
