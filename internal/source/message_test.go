package source

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tracker/internal/core"
)

func TestDecodeMessage(t *testing.T) {
	rec, err := DecodeMessage("t/0@5", []byte(`{"id_pacote": 12, "origem": "SP", "destino": "RJ",
		"status_rastreamento": "POSTADO", "data_atualizacao": "2025-10-12T08:15:00Z", "extra": true}`))
	require.NoError(t, err)

	assert.Equal(t, "t/0@5", rec.Ref)
	assert.Equal(t, json.Number("12"), rec.Fields[core.FieldPackageID])
	assert.Equal(t, "SP", rec.Fields[core.FieldOrigin])
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":      `hello`,
		"array":         `[1, 2]`,
		"string":        `"id"`,
		"null":          `null`,
		"two objects":   `{"a":1}{"b":2}`,
		"empty payload": ``,
		"truncated":     `{"id_pacote": 1`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage("t/0@1", []byte(payload))
			assert.ErrorIs(t, err, core.ErrMalformedPayload)
		})
	}
}

func TestEncodeRecord_RoundTrip(t *testing.T) {
	rec := core.CanonicalRecord{
		PackageID:   7,
		Origin:      "SP",
		Destination: "RJ",
		Status:      "POSTADO",
		EventTime:   time.Date(2025, 10, 12, 5, 15, 0, 0, time.FixedZone("BRT", -3*3600)),
	}

	body, err := EncodeRecord(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id_pacote":7,"origem":"SP","destino":"RJ",
		"status_rastreamento":"POSTADO","data_atualizacao":"2025-10-12T08:15:00Z"}`, string(body))

	raw, err := DecodeMessage("t/0@1", body)
	require.NoError(t, err)
	back, rerr := core.NewValidator().Validate(raw)
	require.Nil(t, rerr)
	assert.Equal(t, rec.PackageID, back.PackageID)
	assert.True(t, rec.EventTime.Equal(back.EventTime))
}

func TestMessageRef(t *testing.T) {
	assert.Equal(t, "eventos_rastreamento/3@1042", MessageRef("eventos_rastreamento", 3, 1042))
}
