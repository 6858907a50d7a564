// Package wire implements the daplinkd line protocol: one JSON object per
// line, each request keyed by "command" with its arguments inlined, and
// each reply keyed by exactly one of "response" or "error".
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Request is one client-to-server line: a command name plus its
// arguments, flattened into the same JSON object.
type Request struct {
	Command string
	Args    map[string]interface{}
}

// MarshalJSON flattens Command and Args into a single object, e.g.
// {"command":"board_select","id":3}.
func (r Request) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(r.Args)+1)
	for k, v := range r.Args {
		obj[k] = v
	}
	obj["command"] = r.Command
	return json.Marshal(obj)
}

// UnmarshalJSON splits the command name back out from the rest of the
// object's fields.
func (r *Request) UnmarshalJSON(data []byte) error {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	cmd, ok := obj["command"].(string)
	if !ok {
		return fmt.Errorf("wire: request missing string \"command\" field")
	}
	delete(obj, "command")
	r.Command = cmd
	r.Args = obj
	return nil
}

// Response is one server-to-client line: either a successful result
// payload or a {error, message} frame.
// Exactly one of Result/ErrorKind is set.
type Response struct {
	Result    interface{}
	ErrorKind string
	ErrorMsg  string
}

// Ok wraps a successful result.
func Ok(result interface{}) Response {
	return Response{Result: result}
}

// Fail wraps an error reply under the given wire error kind.
func Fail(kind, message string) Response {
	return Response{ErrorKind: kind, ErrorMsg: message}
}

// MarshalJSON encodes an error reply as {"error":kind,"message":msg} or a
// success reply as {"response":result}.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.ErrorKind != "" {
		return json.Marshal(map[string]interface{}{
			"error":   r.ErrorKind,
			"message": r.ErrorMsg,
		})
	}
	return json.Marshal(map[string]interface{}{"response": r.Result})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if raw, ok := obj["error"]; ok {
		if err := json.Unmarshal(raw, &r.ErrorKind); err != nil {
			return err
		}
		if raw, ok := obj["message"]; ok {
			return json.Unmarshal(raw, &r.ErrorMsg)
		}
		return nil
	}
	raw, ok := obj["response"]
	if !ok {
		return fmt.Errorf("wire: reply has neither \"response\" nor \"error\"")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	r.Result = v
	return nil
}

// IsError reports whether this response carries an error frame.
func (r Response) IsError() bool { return r.ErrorKind != "" }

// Decoder reads newline-delimited JSON requests off a connection.
type Decoder struct {
	sc *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// ReadRequest blocks for the next line and decodes it. It returns io.EOF
// once the peer closes the connection.
func (d *Decoder) ReadRequest() (Request, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return Request{}, err
		}
		return Request{}, io.EOF
	}
	var req Request
	if err := json.Unmarshal(d.sc.Bytes(), &req); err != nil {
		return Request{}, fmt.Errorf("wire: malformed request: %w", err)
	}
	return req, nil
}

// ReadResponse blocks for the next line and decodes it as a reply. It
// returns io.EOF once the peer closes the connection.
func (d *Decoder) ReadResponse() (Response, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return Response{}, err
		}
		return Response{}, io.EOF
	}
	var resp Response
	if err := json.Unmarshal(d.sc.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("wire: malformed response: %w", err)
	}
	return resp, nil
}

// Encoder writes newline-delimited JSON lines to a connection. It is
// shared by the broker (writing Response) and the client (writing
// Request): both are just json.Marshaler values.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteResponse marshals resp and appends the trailing newline the
// Decoder on the other end scans on.
func (e *Encoder) WriteResponse(resp Response) error {
	return e.writeLine(resp)
}

// WriteRequest marshals req and appends the trailing newline.
func (e *Encoder) WriteRequest(req Request) error {
	return e.writeLine(req)
}

func (e *Encoder) writeLine(v interface{ MarshalJSON() ([]byte, error) }) error {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}
