package internal

import (
	"reflect"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
)

func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "read lock batch",
			command: Command{
				Timestamp: 1_700_000_000_000,
				Ops: store.NewBatch().
					SetEIfUnset("read:job:token", []byte("1"), 240*time.Second).
					Get("write:job").Ops,
			},
		},
		{
			name: "write lock batch",
			command: Command{
				Timestamp: 42,
				Ops: store.NewBatch().
					SetEIfUnset("write:job", []byte("token"), 30*time.Second).
					Keys("read:job:").Ops,
			},
		},
		{
			name: "single op without value",
			command: Command{
				Ops: store.NewBatch().Delete("read:job:token").Ops,
			},
		},
		{
			name:    "no ops",
			command: Command{Timestamp: 7, Ops: []store.Op{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.command) {
				t.Errorf("Deserialize() = %+v, want %+v", got, tt.command)
			}
		})
	}
}

func TestDeserializeErrors(t *testing.T) {
	valid := (&Command{Timestamp: 1, Ops: store.NewBatch().Get("k").Ops}).Serialize()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short timestamp", []byte{1, 2, 3}},
		{"truncated ops", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0xff)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			if err := cmd.Deserialize(tt.data); err == nil {
				t.Errorf("Deserialize(%v) should fail", tt.data)
			}
		})
	}
}
