package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxnlabs/gpurt/fixtures"
	"github.com/fxnlabs/gpurt/internal/kernels"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"gpurt"}, args...))
	return out.String(), err
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := run(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.ConfigTemplate, data)

	_, err = run(t, "--config", path, "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "--config", path, "init", "--force")
	assert.NoError(t, err)
}

func TestMissingExplicitConfig(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "devices")
	assert.Error(t, err)
}

func TestDevices(t *testing.T) {
	out, err := run(t, "devices", "--no-banner")
	require.NoError(t, err)
	assert.Contains(t, out, "Intel(R) Arc(TM) A770 Graphics")
	assert.Contains(t, out, "Intel(R) UHD Graphics 770")
	assert.Contains(t, out, "discrete_gpu")
	assert.NotContains(t, out, "NVIDIA")

	_, err = run(t, "devices", "--runtime", "vulkan")
	assert.Error(t, err)
}

func TestSelfTest(t *testing.T) {
	out, err := run(t, "selftest", "--json")
	require.NoError(t, err)

	var report kernels.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Passed())
	assert.Equal(t, "ocl", report.Backend)

	out, err = run(t, "smoke", "--engine", "ocl")
	require.NoError(t, err)
	assert.Contains(t, out, "gather_f32")
	assert.Contains(t, out, "[1 2 3 4 3 4 1 2]")

	_, err = run(t, "selftest", "--engine", "cuda")
	assert.Error(t, err)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "4.0 GiB", humanBytes(4<<30))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<19))
}
