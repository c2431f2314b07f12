package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/tracker/internal/core"
)

// trackingMessage is the wire shape of one tracking event on the topic.
type trackingMessage struct {
	PackageID   int64  `json:"id_pacote"`
	Origin      string `json:"origem"`
	Destination string `json:"destino"`
	Status      string `json:"status_rastreamento"`
	Timestamp   string `json:"data_atualizacao"`
}

// DecodeMessage parses a message body into a raw record. The body must be a
// single JSON object; anything else returns core.ErrMalformedPayload.
// Numbers are kept as json.Number so the validator sees the original text.
func DecodeMessage(ref string, payload []byte) (core.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return core.RawRecord{}, fmt.Errorf("%w: %s: %w", core.ErrMalformedPayload, ref, err)
	}
	if fields == nil {
		return core.RawRecord{}, fmt.Errorf("%w: %s: null body", core.ErrMalformedPayload, ref)
	}
	if dec.More() {
		return core.RawRecord{}, fmt.Errorf("%w: %s: trailing data after object", core.ErrMalformedPayload, ref)
	}

	return core.RawRecord{Ref: ref, Fields: fields}, nil
}

// EncodeRecord renders a canonical record in the wire shape. The timestamp
// is written in UTC with a "Z" designator.
func EncodeRecord(rec core.CanonicalRecord) ([]byte, error) {
	return json.Marshal(trackingMessage{
		PackageID:   rec.PackageID,
		Origin:      rec.Origin,
		Destination: rec.Destination,
		Status:      rec.Status,
		Timestamp:   rec.EventTime.UTC().Format(time.RFC3339Nano),
	})
}

// MessageRef formats the log identifier of a stream message.
func MessageRef(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s/%d@%d", topic, partition, offset)
}
