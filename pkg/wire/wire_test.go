package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Command: "board_select", Args: map[string]interface{}{"id": float64(3)}}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteRequest(req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatal("expected trailing newline")
	}

	got, err := NewDecoder(&buf).ReadRequest()
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Command != "board_select" {
		t.Fatalf("Command = %q, want board_select", got.Command)
	}
	if got.Args["id"] != float64(3) {
		t.Fatalf("Args[id] = %v, want 3", got.Args["id"])
	}
}

func TestResponseOkRoundTrip(t *testing.T) {
	resp := Ok(map[string]interface{}{"version": "1.0.0"})
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteResponse(resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	got, err := NewDecoder(&buf).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.IsError() {
		t.Fatal("expected a success response")
	}
	obj, ok := got.Result.(map[string]interface{})
	if !ok || obj["version"] != "1.0.0" {
		t.Fatalf("Result = %#v", got.Result)
	}
}

func TestResponseErrorRoundTrip(t *testing.T) {
	resp := Fail("TransferError", "sticky fault")
	var buf bytes.Buffer
	if err := NewEncoder(&buf).WriteResponse(resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	got, err := NewDecoder(&buf).ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if !got.IsError() {
		t.Fatal("expected an error response")
	}
	if got.ErrorKind != "TransferError" || got.ErrorMsg != "sticky fault" {
		t.Fatalf("got = %+v", got)
	}
}

func TestDecoderReadsMultipleLines(t *testing.T) {
	buf := bytes.NewBufferString(`{"command":"a"}` + "\n" + `{"command":"b"}` + "\n")
	dec := NewDecoder(buf)

	first, err := dec.ReadRequest()
	if err != nil || first.Command != "a" {
		t.Fatalf("first = %+v, err = %v", first, err)
	}
	second, err := dec.ReadRequest()
	if err != nil || second.Command != "b" {
		t.Fatalf("second = %+v, err = %v", second, err)
	}
}

func TestRequestMissingCommandField(t *testing.T) {
	var req Request
	if err := req.UnmarshalJSON([]byte(`{"id":3}`)); err == nil {
		t.Fatal("expected error for missing command field")
	}
}
