// Package sonicjson encodes event payloads with bytedance/sonic instead of
// encoding/json. The output is standard JSON, so stores written by either
// serializer can be read by the other.
package sonicjson

import (
	"github.com/bytedance/sonic"

	"github.com/codewandler/esengine/core/es"
)

// Codec is sonic configured for encoding/json compatible output.
var Codec es.JSONCodec = sonic.ConfigStd

// NewSerializer returns a JSON serializer backed by sonic.
func NewSerializer(events *es.EventRegistry) *es.JSONSerializer {
	return es.NewJSONSerializer(events, Codec)
}

// WithSerializer configures a repository to use sonic for registry's events.
func WithSerializer(registry *es.Registry) es.SerializerOption {
	return es.WithSerializer(NewSerializer(registry.Events()))
}
