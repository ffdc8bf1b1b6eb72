package corba

import (
	"errors"
	"testing"
)

func TestSystemExceptionMarshalRoundTrip(t *testing.T) {
	ex := OBJECT_NOT_EXIST(5, CompletionStatusYes)
	data, err := MarshalException(ex)
	if err != nil {
		t.Fatalf("MarshalException: %v", err)
	}
	got, err := UnmarshalException(data, nil)
	if err != nil {
		t.Fatalf("UnmarshalException: %v", err)
	}
	if got.Name() != "OBJECT_NOT_EXIST" || got.Minor() != 5 || got.Completed() != CompletionStatusYes {
		t.Fatalf("unexpected round trip: name=%s minor=%d completed=%v", got.Name(), got.Minor(), got.Completed())
	}
	if got.ID() != ex.ID() {
		t.Fatalf("ID mismatch: got %q want %q", got.ID(), ex.ID())
	}
}

func TestUserExceptionMarshalRoundTrip(t *testing.T) {
	tc := NewExceptionTC("IDL:demo/NotFound:1.0", "NotFound", []Member{
		{Name: "reason", Type: NewStringTC(0)},
		{Name: "code", Type: BasicTypeCode(TC_LONG)},
	})
	RegisterException(tc)

	ex := NewCORBAUserException(tc)
	ex.SetMember("reason", StringValue("missing object"))
	ex.SetMember("code", LongValue(404))

	data, err := MarshalException(ex)
	if err != nil {
		t.Fatalf("MarshalException: %v", err)
	}
	got, err := UnmarshalException(data, nil)
	if err != nil {
		t.Fatalf("UnmarshalException: %v", err)
	}
	userEx, ok := got.(*UserException)
	if !ok {
		t.Fatalf("expected *UserException, got %T", got)
	}
	reason, ok := userEx.GetMember("reason")
	if !ok || reason.Str() != "missing object" {
		t.Fatalf("unexpected reason member: %+v, %v", reason, ok)
	}
	code, ok := userEx.GetMember("code")
	if !ok || code.Long() != 404 {
		t.Fatalf("unexpected code member: %+v, %v", code, ok)
	}
}

func TestSafeInvokeReturnsPanicAsException(t *testing.T) {
	result, ex := SafeInvoke(func() (interface{}, error) {
		panic(BAD_PARAM(1, CompletionStatusMaybe))
	})
	if result != nil {
		t.Fatalf("expected nil result after a panic, got %v", result)
	}
	if ex == nil {
		t.Fatal("expected SafeInvoke to recover the panic as a non-nil Exception")
	}
	if ex.Name() != "BAD_PARAM" {
		t.Fatalf("expected the original exception to survive the recover, got %s", ex.Name())
	}
}

func TestSafeInvokeRecoversArbitraryPanic(t *testing.T) {
	_, ex := SafeInvoke(func() (interface{}, error) {
		panic("something went wrong")
	})
	if ex == nil {
		t.Fatal("expected a non-nil exception for an arbitrary panic value")
	}
	if ex.Name() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for a non-exception panic value, got %s", ex.Name())
	}
}

func TestSafeInvokePassesThroughSuccess(t *testing.T) {
	result, ex := SafeInvoke(func() (interface{}, error) {
		return "ok", nil
	})
	if ex != nil {
		t.Fatalf("expected no exception on success, got %v", ex)
	}
	if result != "ok" {
		t.Fatalf("expected result %q, got %v", "ok", result)
	}
}

func TestSafeInvokeWrapsReturnedError(t *testing.T) {
	_, ex := SafeInvoke(func() (interface{}, error) {
		return nil, errors.New("plain error")
	})
	if ex == nil {
		t.Fatal("expected a non-nil exception wrapping the returned error")
	}
	if ex.Name() != "UNKNOWN" {
		t.Fatalf("expected a plain error to map to UNKNOWN, got %s", ex.Name())
	}
}

func TestIsUserExceptionAndIsSystemException(t *testing.T) {
	sysEx := TRANSIENT(0, CompletionStatusNo)
	if !IsSystemException(sysEx) || IsUserException(sysEx) {
		t.Fatalf("expected TRANSIENT to classify as a system exception only")
	}

	tc := NewExceptionTC("IDL:demo/Oops:1.0", "Oops", nil)
	userEx := NewCORBAUserException(tc)
	if !IsUserException(userEx) || IsSystemException(userEx) {
		t.Fatalf("expected a user exception to classify as a user exception only")
	}
}
