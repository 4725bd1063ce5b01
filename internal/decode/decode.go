// Package decode turns opaque job payload bytes into generic field maps.
// Payloads arrive either as UTF-8 JSON (compatibility serializers) or as
// Python pickle streams (the queue runtime's default). Tiers are tried in
// strict order and the first success wins; records rejected by every tier
// are reported as undecodable, never as a panic or batch failure.
package decode

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"arq-dashboard/internal/arqerrors"
	"arq-dashboard/internal/telemetry"
)

// Decoder runs the three-tier decode chain. A nil external decoder disables
// the subprocess fallback, which then counts as an ordinary tier failure.
type Decoder struct {
	external *ExternalDecoder
}

// NewDecoder builds a decoder. external may be nil.
func NewDecoder(external *ExternalDecoder) *Decoder {
	return &Decoder{external: external}
}

// Decode attempts JSON, then in-process pickle, then the external helper.
// It returns the decoded field map or arqerrors.ErrUndecodable.
func (d *Decoder) Decode(ctx context.Context, data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, arqerrors.ErrUndecodable
	}

	if fields, err := decodeJSON(data); err == nil {
		telemetry.DecodeJSON.Inc()
		return fields, nil
	}

	if fields, err := decodePickleMap(data); err == nil {
		telemetry.DecodePickle.Inc()
		return fields, nil
	}

	if d.external != nil {
		if fields, err := d.external.Decode(ctx, data); err == nil {
			telemetry.DecodeExternal.Inc()
			return fields, nil
		}
	}

	telemetry.DecodeFailures.Inc()
	return nil, arqerrors.ErrUndecodable
}

func decodeJSON(data []byte) (map[string]any, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not utf-8")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("null payload")
	}
	return fields, nil
}

func decodePickleMap(data []byte) (map[string]any, error) {
	obj, err := unpickle(data)
	if err != nil {
		return nil, err
	}
	fields, ok := obj.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("pickle top-level is %T, want mapping", obj)
	}
	return fields, nil
}
