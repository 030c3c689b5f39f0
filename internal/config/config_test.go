package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/mineguard/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "mineguard.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeTOML(t, "")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(p), DefaultInstancesDir), c.InstancesDir)
	assert.Equal(t, "java", c.Java)
	assert.Equal(t, time.Second, c.SettleDelay)
	assert.Equal(t, 2048, c.ChannelCapacity)
	assert.Equal(t, logger.LevelInfo, c.Log.Slog.Level)
	assert.Equal(t, DefaultMetricsListen, c.Metrics.Listen)
	assert.True(t, c.API.Enabled)
	assert.Equal(t, DefaultAPIListen, c.API.Listen)
	assert.Equal(t, DefaultAPIBasePath, c.API.BasePath)
	assert.Equal(t, DefaultSampleInterval, c.Metrics.SampleInterval)
	assert.Empty(t, c.History.DSN)
	assert.Empty(t, c.Schedules)
}

func TestLoad_Full(t *testing.T) {
	p := writeTOML(t, `
instances_dir = "/srv/minecraft"
java = "/usr/lib/jvm/java-21/bin/java"
jvm_args = ["-Xmx4G", "-Xms1G"]
settle_delay = "250ms"
channel_capacity = 64

[log.slog]
level = "debug"
format = "json"

[log.file]
dir = "/var/log/mineguard"
max_size_mb = 50

[api]
listen = "0.0.0.0:8081"
base_path = "/mc"
tls_min_version = "1.2"

[api.tls]
enabled = true
dir = "/etc/mineguard/tls"
auto_generate = true

[api.tls.auto_gen]
common_name = "mc.example"
dns_names = ["mc.example"]
valid_days = 30

[metrics]
enabled = true
listen = "127.0.0.1:9000"
sample_interval = "2s"

[history]
dsn = "sqlite:///var/lib/mineguard/history.db"

[[schedules]]
instance = "lobby"
cron = "*/15 * * * *"
command = "save-all"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/minecraft", c.InstancesDir)
	assert.Equal(t, "/usr/lib/jvm/java-21/bin/java", c.Java)
	assert.Equal(t, []string{"-Xmx4G", "-Xms1G"}, c.JVMArgs)
	assert.Equal(t, 250*time.Millisecond, c.SettleDelay)
	assert.Equal(t, 64, c.ChannelCapacity)
	assert.Equal(t, logger.LevelDebug, c.Log.Slog.Level)
	assert.Equal(t, logger.FormatJSON, c.Log.Slog.Format)
	assert.Equal(t, "/var/log/mineguard", c.Log.File.Dir)
	assert.Equal(t, 50, c.Log.File.MaxSizeMB)
	assert.Equal(t, "0.0.0.0:8081", c.API.Listen)
	assert.Equal(t, "/mc", c.API.BasePath)
	assert.Equal(t, "1.2", c.API.TLSMinVersion)
	require.NotNil(t, c.API.TLS)
	assert.True(t, c.API.TLS.Enabled)
	assert.True(t, c.API.TLS.AutoGenerate)
	assert.Equal(t, "/etc/mineguard/tls", c.API.TLS.Dir)
	require.NotNil(t, c.API.TLS.AutoGen)
	assert.Equal(t, "mc.example", c.API.TLS.AutoGen.CommonName)
	assert.Equal(t, 30, c.API.TLS.AutoGen.ValidDays)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9000", c.Metrics.Listen)
	assert.Equal(t, 2*time.Second, c.Metrics.SampleInterval)
	assert.Equal(t, "sqlite:///var/lib/mineguard/history.db", c.History.DSN)
	require.Len(t, c.Schedules, 1)
	assert.Equal(t, ScheduleConfig{Instance: "lobby", Cron: "*/15 * * * *", Command: "save-all"}, c.Schedules[0])
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	cases := map[string]string{
		"zero capacity":  "channel_capacity = 0\n",
		"empty java":     "java = \"\"\n",
		"api no listen":  "[api]\nlisten = \"\"\n",
		"tls half pair":  "[api.tls]\nenabled = true\ncert_file = \"a.crt\"\n",
		"bad cron":       "[[schedules]]\ninstance = \"a\"\ncron = \"not a cron\"\ncommand = \"say hi\"\n",
		"missing target": "[[schedules]]\ncron = \"@hourly\"\ncommand = \"say hi\"\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeTOML(t, data))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MINEGUARD_JAVA", "/opt/java/bin/java")
	c, err := Load(writeTOML(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "/opt/java/bin/java", c.Java)
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, DefaultJava, c.Java)
	assert.Equal(t, DefaultChannelCapacity, c.ChannelCapacity)
	assert.NoError(t, c.Validate())
}

func TestChildEnv(t *testing.T) {
	c := &Config{}
	env, err := c.ChildEnv()
	require.NoError(t, err)
	assert.Nil(t, env)

	dir := t.TempDir()
	f := filepath.Join(dir, "server.env")
	require.NoError(t, os.WriteFile(f, []byte("# comment\nA=file\nB=file\n\n"), 0o644))
	c = &Config{EnvFiles: []string{f}, Env: []string{"B=top", "C=top"}}
	env, err = c.ChildEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=file", "B=top", "C=top"}, env)

	c = &Config{EnvFiles: []string{filepath.Join(dir, "nope.env")}}
	_, err = c.ChildEnv()
	assert.Error(t, err)
}
