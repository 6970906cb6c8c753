// Package json wraps goccy/go-json with pooled buffers for line oriented
// message output and number preserving decoding of upstream payloads.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// Number is a JSON number literal kept as text until the schema decides
// whether it is an integer or a float.
type Number = gojson.Number

// RawMessage is a raw encoded JSON value.
type RawMessage = gojson.RawMessage

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// MarshalIndent is a drop-in replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal is a drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalUseNumber decodes data keeping numbers as Number values.
func UnmarshalUseNumber(data []byte, v interface{}) error {
	return DecodeUseNumber(bytes.NewReader(data), v)
}

// DecodeUseNumber decodes one JSON value from r keeping numbers as Number values.
func DecodeUseNumber(r io.Reader, v interface{}) error {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// WriteLine encodes v as a single line terminated by '\n' and writes it to w
// in one Write call.
func WriteLine(w io.Writer, v interface{}) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode appends the trailing newline
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// MarshalLine is WriteLine into a fresh byte slice.
func MarshalLine(v interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if err := WriteLine(buf, v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
