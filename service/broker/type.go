// Package broker publishes intersection events to a message broker.
package broker

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/xerrors"
)

type IService interface {
	// Publish sends payload to <base topic>/<subtopic>.
	Publish(subtopic string, payload interface{}) error
	Close() error
}

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Encode renders payload in the configured wire encoding.
func Encode(encoding string, payload interface{}) ([]byte, error) {
	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(payload)
	case EncodingMsgpack:
		return msgpack.Marshal(payload)
	default:
		return nil, xerrors.Errorf("unsupported encoding %q", encoding)
	}
}
