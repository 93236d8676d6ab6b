package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_SilentByDefault(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})

	assert.False(t, IsVerbose())
	Debug("hidden %d", 1)
	Info("hidden")
	Warn("hidden")
	assert.Empty(t, buf.String())
}

func TestLogger_VerboseTagsLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
	})

	assert.True(t, IsVerbose())
	Debug("retrying %q", "blog")
	Info("warmed %d collections", 3)
	Warn("credential validation failed")

	out := buf.String()
	assert.Contains(t, out, `commitdb [debug] retrying "blog"`)
	assert.Contains(t, out, "commitdb [info] warmed 3 collections")
	assert.Contains(t, out, "commitdb [warn] credential validation failed")
}
