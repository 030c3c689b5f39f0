package parser

import (
	"testing"

	"github.com/loykin/mineguard/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	rec, ok := ParseRecord("[12:34:56] [Server thread/INFO]: Starting minecraft server version 1.20.1")
	require.True(t, ok)
	assert.Equal(t, Record{
		Time:    "12:34:56",
		Thread:  "Server thread",
		Level:   LevelInfo,
		Message: "Starting minecraft server version 1.20.1",
	}, rec)

	rec, ok = ParseRecord("[12:34:56][Worker-Main-2/WARN]: slow")
	require.True(t, ok)
	assert.Equal(t, "Worker-Main-2", rec.Thread)
	assert.Equal(t, LevelWarn, rec.Level)

	rec, ok = ParseRecord("[00:00:01] [main/DEBUG]: x")
	require.True(t, ok)
	assert.Equal(t, LevelOther, rec.Level)
	assert.Equal(t, "OTHER", rec.Level.String())
}

func TestParseRecordRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"plain text",
		"[12:00:00 missing close",
		"[12:00:00] no second group",
		"[12:00:00] [Server thread/INFO] no colon",
		"[12:00:00] [Server thread]: no level",
	} {
		_, ok := ParseRecord(in)
		assert.False(t, ok, in)
	}
}

func TestVanillaReadyMarker(t *testing.T) {
	p := VanillaParser{}

	sig, ok := p.Parse("[12:34:56] [Server thread/INFO]: Done (3.2s)! For help, type \"help\"")
	require.True(t, ok)
	assert.Equal(t, ServerStarted, sig)

	sig, ok = p.Parse("[12:00:00] [Server thread/INFO]: Done (12s)!")
	require.True(t, ok)
	assert.Equal(t, ServerStarted, sig)
}

func TestVanillaIgnoresOtherLines(t *testing.T) {
	p := VanillaParser{}
	for _, in := range []string{
		"[12:34:56] [Worker/INFO]: Done (3.2s)!",
		"[12:34:56] [Server thread/WARN]: Done (3.2s)!",
		"[12:34:56] [Server thread/INFO]: Preparing spawn area: 83%",
		"[12:34:56] [Server thread/INFO]: Done!",
		"Done (3.2s)!",
	} {
		_, ok := p.Parse(in)
		assert.False(t, ok, in)
	}
}

func TestForType(t *testing.T) {
	p, ok := ForType(version.Vanilla)
	require.True(t, ok)
	assert.IsType(t, VanillaParser{}, p)

	_, ok = ForType(version.ServerType(42))
	assert.False(t, ok)
}

func TestParserFunc(t *testing.T) {
	p := ParserFunc(func(raw string) (Signal, bool) { return ServerStarted, raw == "ready" })
	_, ok := p.Parse("nope")
	assert.False(t, ok)
	sig, ok := p.Parse("ready")
	assert.True(t, ok)
	assert.Equal(t, "ServerStarted", sig.String())
}
