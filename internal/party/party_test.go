package party

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	id := uuid.New()
	p, err := Parse("equipment:" + id.String())
	require.NoError(t, err)
	require.True(t, p.IsEquipment())
	require.Equal(t, id, p.ID())
	require.Equal(t, "equipment:"+id.String(), p.String())
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse("site:" + uuid.NewString())
	require.ErrorIs(t, err, ErrInvalidParty)

	_, err = Parse("warehouse")
	require.ErrorIs(t, err, ErrInvalidParty)

	_, err = New(KindWarehouse, uuid.Nil)
	require.ErrorIs(t, err, ErrInvalidParty)
}

func TestJSON(t *testing.T) {
	wh := Warehouse(uuid.New())
	raw, err := json.Marshal(struct {
		Holder Party `json:"holder"`
		Source Party `json:"source"`
	}{Holder: wh})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"warehouse"`)
	require.Contains(t, string(raw), `"source":null`)

	var decoded struct {
		Holder Party `json:"holder"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, wh, decoded.Holder)

	var bad Party
	require.Error(t, json.Unmarshal([]byte(`{"type":"truck","id":"`+uuid.NewString()+`"}`), &bad))
}

func TestColumns(t *testing.T) {
	kind, id := Party{}.Columns()
	require.Nil(t, kind)
	require.Nil(t, id)

	eq := Equipment(uuid.New())
	k, v := eq.Columns()
	ks := k.(string)
	vs := v.(uuid.UUID)
	back, err := FromColumns(&ks, &vs)
	require.NoError(t, err)
	require.Equal(t, eq, back)

	empty, err := FromColumns(nil, nil)
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}
