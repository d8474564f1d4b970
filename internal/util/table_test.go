package util

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	columns := []TableColumn{
		{Header: "TRACK", Key: "kind"},
		{Header: "WRITTEN", Key: "written"},
	}
	RenderTable(&buf, columns, []map[string]interface{}{
		{"kind": "video", "written": 90},
		{"kind": "audio", "written": int64(1400)},
	})

	want := "TRACK WRITTEN\n" +
		"----- -------\n" +
		"video 90\n" +
		"audio 1400\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 7, columns[1].Width)
}

func TestRenderTableIgnoresColorCodes(t *testing.T) {
	c := color.New(color.FgRed)
	c.EnableColor()
	red := c.Sprint("failed")

	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "RESULT", Key: "r"}, {Header: "N", Key: "n"}}, []map[string]interface{}{
		{"r": red, "n": 1},
		{"r": "ok", "n": 2},
	})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Equal(t, "RESULT N", string(lines[0]))
	assert.Equal(t, red+" 1", string(lines[2]))
	assert.Equal(t, "ok     2", string(lines[3]))
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "A", Key: "a"}}, nil)
	assert.Equal(t, "No data to display\n", buf.String())
}
