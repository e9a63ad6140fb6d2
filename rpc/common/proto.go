package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string        `json:"key,omitempty"`   // Used for: all KV ops (Keys: the prefix), lock ops (the normalized id)
	Value []byte        `json:"value,omitempty"` // Used for: Set*, DeleteIfEqual (request), Get (response)
	TTL   time.Duration `json:"ttl,omitempty"`   // Used for: SetE, SetEIfUnset, lock ops (time left until the caller's deadline)
	Token string        `json:"token,omitempty"` // Used for: release requests, lock and release responses

	// Batches
	Ops     []store.Op     `json:"ops,omitempty"`     // Used for: Exec (request)
	Results []store.Result `json:"results,omitempty"` // Used for: Exec (response)
	Keys    []string       `json:"keys,omitempty"`    // Used for: Keys (response)

	// Response only fields
	Ok   bool          `json:"ok,omitempty"`   // Used for: SetEIfUnset, Delete*, Get, Has, lock responses
	Code store.RetCode `json:"code,omitempty"` // store.RetCode of a failed store operation
	Err  string        `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: GetDBInfo (response, json encoded db.DatabaseInfo)
}

// SetError fills Err (and Code for store errors) from err.
func (m *Message) SetError(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	if serr, ok := err.(*store.Error); ok {
		m.Code = serr.Code
		m.Err = serr.Msg
	}
	return m
}

// Error returns the error carried by a response, or nil.
// A store error is returned as *store.Error with its original code.
func (m *Message) Error() error {
	if m.Err == "" {
		return nil
	}
	if m.Code != store.RetCSuccess {
		return store.NewError(m.Code, m.Err)
	}
	return fmt.Errorf("%s", m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (IStore)
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTKVSet, Key: key, Value: value}
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVSetE, Key: key, Value: value, TTL: ttl}
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVSetEIfUnset, Key: key, Value: value, TTL: ttl}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTKVDelete, Key: key}
}

// NewDeleteIfEqualRequest creates a new DeleteIfEqual request
func NewDeleteIfEqualRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTKVDeleteIfEqual, Key: key, Value: value}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{MsgType: MsgTKVGet, Key: key}
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{MsgType: MsgTKVHas, Key: key}
}

// NewKeysRequest creates a new Keys request
func NewKeysRequest(prefix string) *Message {
	return &Message{MsgType: MsgTKVKeys, Key: prefix}
}

// NewExecRequest creates a new Exec request
func NewExecRequest(ops []store.Op) *Message {
	return &Message{MsgType: MsgTKVExec, Ops: ops}
}

// NewGetDBInfoRequest creates a new GetDBInfo request
func NewGetDBInfoRequest() *Message {
	return &Message{MsgType: MsgTKVGetDBInfo}
}

// NewOkResponse creates a response for operations that report a boolean (and nothing else)
func NewOkResponse(t MessageType, ok bool, err error) *Message {
	return (&Message{MsgType: t, Ok: ok}).SetError(err)
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	return (&Message{MsgType: MsgTKVGet, Value: value, Ok: ok}).SetError(err)
}

// NewKeysResponse creates a new Keys response
func NewKeysResponse(keys []string, err error) *Message {
	return (&Message{MsgType: MsgTKVKeys, Keys: keys, Ok: len(keys) > 0}).SetError(err)
}

// NewExecResponse creates a new Exec response
func NewExecResponse(results []store.Result, err error) *Message {
	return (&Message{MsgType: MsgTKVExec, Results: results}).SetError(err)
}

// NewGetDBInfoResponse creates a new GetDBInfo response
func NewGetDBInfoResponse(meta []byte, err error) *Message {
	return (&Message{MsgType: MsgTKVGetDBInfo, Meta: meta}).SetError(err)
}

// --------------------------------------------------------------------------
// Message Factory Functions (ILockManager)
// --------------------------------------------------------------------------

// NewLockRequest creates a ReadLock or WriteLock request for a normalized id
func NewLockRequest(t MessageType, id string) *Message {
	return &Message{MsgType: t, Key: id}
}

// NewReleaseRequest creates a ReadRelease or WriteRelease request
func NewReleaseRequest(t MessageType, id, token string) *Message {
	return &Message{MsgType: t, Key: id, Token: token}
}

// NewLockResponse creates the response to a lock or release request.
// Ok reports whether a lock was granted (or released), Token holds it.
// A lock response with Ok=false and no Err means the lock is taken (timeout).
func NewLockResponse(t MessageType, token string, err error) *Message {
	return (&Message{MsgType: t, Token: token, Ok: token != ""}).SetError(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTSuccess:         "success",
	MsgTError:           "error",
	MsgTKVSet:           "set",
	MsgTKVSetE:          "setE",
	MsgTKVSetEIfUnset:   "setEIfUnset",
	MsgTKVDelete:        "delete",
	MsgTKVDeleteIfEqual: "deleteIfEqual",
	MsgTKVGet:           "get",
	MsgTKVHas:           "has",
	MsgTKVKeys:          "keys",
	MsgTKVExec:          "exec",
	MsgTKVGetDBInfo:     "getDBInfo",
	MsgTLCKReadLock:     "readLock",
	MsgTLCKWriteLock:    "writeLock",
	MsgTLCKReadRelease:  "readRelease",
	MsgTLCKWriteRelease: "writeRelease",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for msgType, name := range msgTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet           // Set a key-value pair
	MsgTKVSetE          // Set a key-value pair with a ttl
	MsgTKVSetEIfUnset   // Set a key-value pair with a ttl if not already set
	MsgTKVDelete        // Delete a key-value pair
	MsgTKVDeleteIfEqual // Delete a key-value pair if it holds a value
	MsgTKVGet           // Get a value by key
	MsgTKVHas           // Check if a key exists
	MsgTKVKeys          // List keys by prefix
	MsgTKVExec          // Execute a batch atomically
	MsgTKVGetDBInfo     // Metadata about the database

	// ILockManager operations

	MsgTLCKReadLock     // Acquire a read lock
	MsgTLCKWriteLock    // Acquire the write lock
	MsgTLCKReadRelease  // Release a read lock
	MsgTLCKWriteRelease // Release the write lock
)
