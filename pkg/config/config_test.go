package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
vision:
  api_key: vk
  base_url: https://vision.example/v1
  model_name: vision-model
  prompt: describe the sketch
  target_min_size: 900
solution_generator:
  api_key: sk
  base_url: https://solution.example/v1
  model_name: solution-model
  prompt: design a project
voice:
  api_key: tk
  base_url: https://stt.example/v1
io:
  capture:
    pin: 16
    mode: single
    debounce_ms: 100
  video:
    pin: 18
    mode: continuous
    debounce_ms: 100
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 900, cfg.Vision.TargetMinSize)
	require.Equal(t, "vision-model", cfg.Vision.ModelName)
	require.Equal(t, 16, cfg.IO["capture"].Pin)
	require.Equal(t, ButtonModeContinuous, cfg.IO["video"].Mode)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeTemp(t, `
vision:
  base_url: https://vision.example/v1
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}

func TestLoad_UnknownKeyWarnsNotFails(t *testing.T) {
	path := writeTemp(t, validYAML+"\nunknown_section:\n  foo: bar\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "vk", cfg.Vision.APIKey)
}

func TestLoad_ButtonMissingPin(t *testing.T) {
	// validYAML ends inside the io mapping, so pgup joins it as a third line.
	path := writeTemp(t, validYAML+`  pgup:
    mode: single
    debounce_ms: 50
`)

	_, err := Load(path)
	require.Error(t, err)
}
