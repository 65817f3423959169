package codec

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadCommandSimple(t *testing.T) {
	a := assert.New(t)

	r := bufio.NewReader(bytes.NewBufferString("param.set thread_pool_min 5\n"))
	cmd, err := ReadCommand(r, false)
	a.Nil(err)
	a.Equal("param.set", cmd.Name)
	a.Equal([]string{"thread_pool_min", "5"}, cmd.Args)
	a.False(cmd.HeredocPresent)
}

func TestReadCommandHeredocAuthenticated(t *testing.T) {
	a := assert.New(t)

	raw := "vcl.inline boot << END\nvcl 4.0;\nbackend b { }\nEND\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))
	cmd, err := ReadCommand(r, true)
	a.Nil(err)
	a.Equal("vcl.inline", cmd.Name)
	a.True(cmd.HeredocPresent)
	a.Equal([]string{"boot", "vcl 4.0;\nbackend b { }\n"}, cmd.Args)
}

func TestReadCommandHeredocUnauthenticatedIsIgnored(t *testing.T) {
	a := assert.New(t)

	raw := "vcl.inline boot << END\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))
	cmd, err := ReadCommand(r, false)
	a.Nil(err)
	a.False(cmd.HeredocPresent)
	a.Equal([]string{"boot", "<<", "END"}, cmd.Args)
}

func TestReadCommandHeredocTruncated(t *testing.T) {
	a := assert.New(t)

	raw := "vcl.inline boot << END\nvcl 4.0;\n"
	r := bufio.NewReader(bytes.NewBufferString(raw))
	_, err := ReadCommand(r, true)
	a.NotNil(err)
}

func TestReadCommandEmptyLine(t *testing.T) {
	a := assert.New(t)

	r := bufio.NewReader(bytes.NewBufferString("\n"))
	_, err := ReadCommand(r, true)
	a.NotNil(err)
	var pe *ProtocolError
	a.ErrorAs(err, &pe)
	a.Equal(Syntax, pe.Status)
}
