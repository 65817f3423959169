package codec

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeResponse(t *testing.T) {
	a := assert.New(t)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	a.Nil(EncodeResponse(w, OK, []byte("Hello")))

	out := buf.Bytes()
	a.Equal(13, len(out[:13]))
	a.Equal("200 5       \n", string(out[:13]))
	a.Equal("Hello\n", string(out[13:]))
}

func TestDecodeResponse(t *testing.T) {
	a := assert.New(t)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	a.Nil(EncodeResponse(w, Unknown, []byte("Unknown request")))

	resp, err := DecodeResponse(bufio.NewReader(&buf))
	a.Nil(err)
	a.Equal(Unknown, resp.Status)
	a.Equal("Unknown request", string(resp.Body))
}

func TestDecodeResponseSkipsBlankLines(t *testing.T) {
	a := assert.New(t)

	raw := "\n\n200 2       \nOK\n"
	resp, err := DecodeResponse(bufio.NewReader(bytes.NewBufferString(raw)))
	a.Nil(err)
	a.Equal(OK, resp.Status)
	a.Equal("OK", string(resp.Body))
}

func TestDecodeResponseMalformedHeader(t *testing.T) {
	a := assert.New(t)

	_, err := DecodeResponse(bufio.NewReader(bytes.NewBufferString("not a header\n")))
	a.NotNil(err)
	var pe *ProtocolError
	a.ErrorAs(err, &pe)
}

func TestDecodeResponseShortBody(t *testing.T) {
	a := assert.New(t)

	_, err := DecodeResponse(bufio.NewReader(bytes.NewBufferString("200 10      \nshort")))
	a.NotNil(err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := assert.New(t)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	body := []byte("vcl 4.0;\nbackend default { }\n")
	a.Nil(EncodeResponse(w, OK, body))

	resp, err := DecodeResponse(bufio.NewReader(&buf))
	a.Nil(err)
	a.Equal(body, resp.Body)
}
