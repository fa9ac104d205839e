package tasks

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("tasks: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("tasks: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a task for a broker.
func Encode(t Task) ([]byte, error) {
	data, err := encMode.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding %s task: %w", t.Kind, err)
	}
	return data, nil
}

func Decode(data []byte) (Task, error) {
	var t Task
	if err := decMode.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decoding task: %w", err)
	}
	return t, nil
}
