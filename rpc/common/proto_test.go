package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/dLock/lib/store"
)

func TestMessageTypeJSON(t *testing.T) {
	for msgType, name := range msgTypeNames {
		data, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("Marshal(%s) error = %v", name, err)
		}
		if string(data) != `"`+name+`"` {
			t.Errorf("Marshal(%d) = %s, want %q", msgType, data, name)
		}

		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if got != msgType {
			t.Errorf("Unmarshal(%s) = %d, want %d", data, got, msgType)
		}
	}

	var mt MessageType
	if err := json.Unmarshal([]byte(`"nope"`), &mt); err == nil {
		t.Error("unknown message type should fail")
	}
}

func TestMessageErrors(t *testing.T) {
	msg := NewOkResponse(MsgTKVDelete, false, store.NewError(store.RetCUnsupportedOperation, "no delete"))
	err := msg.Error()

	var serr *store.Error
	if !errors.As(err, &serr) {
		t.Fatalf("Error() = %T, want *store.Error", err)
	}
	if serr.Code != store.RetCUnsupportedOperation || serr.Msg != "no delete" {
		t.Errorf("Error() = %+v", serr)
	}

	msg = NewLockResponse(MsgTLCKWriteLock, "", errors.New("plain"))
	if msg.Error() == nil || msg.Error().Error() != "plain" {
		t.Errorf("Error() = %v, want plain", msg.Error())
	}
	if msg.Ok {
		t.Error("a lock response without token is not ok")
	}

	if err := NewLockResponse(MsgTLCKReadLock, "token", nil).Error(); err != nil {
		t.Errorf("Error() = %v, want nil", err)
	}
}

func TestParseShardTypeProto(t *testing.T) {
	for _, name := range []string{"lstore", "dstore", "lockmgr(lstore)", "lockmgr(dstore)", "lockmgr(redis)"} {
		if _, err := ParseShardType(name); err != nil {
			t.Errorf("ParseShardType(%q) error = %v", name, err)
		}
	}
	if _, err := ParseShardType("lockmgr"); err == nil {
		t.Error("ParseShardType(lockmgr) should fail")
	}

	lm, _ := ParseShardType("lockmgr(redis)")
	st, _ := ParseShardType("dstore")
	if !lm.IsLockManager() || st.IsLockManager() {
		t.Error("IsLockManager mismatch")
	}
}
