package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cauldron.ai/internal/agent"
	"cauldron.ai/internal/observerproto"
	"cauldron.ai/internal/sim/catalogs"
	"cauldron.ai/internal/sim/tuning"
	"cauldron.ai/internal/transport/observer"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger("DEBUG", "json")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())

	_, err = newLogger("loud", "json")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}

func TestLoadInputs(t *testing.T) {
	cats, tune, err := loadInputs(options{})
	require.NoError(t, err)
	assert.Equal(t, 36, cats.Brews.Len())
	assert.Equal(t, tuning.Defaults(), tune)

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  horizon: 12\n"), 0o644))
	_, tune, err = loadInputs(options{TuningPath: path})
	require.NoError(t, err)
	assert.Equal(t, 12, tune.Search.Horizon)

	_, _, err = loadInputs(options{CatalogDir: t.TempDir()})
	assert.Error(t, err)
}

func TestObserveMuxHealth(t *testing.T) {
	cats, err := catalogs.LoadDefault()
	require.NoError(t, err)
	a := agent.New(agent.Config{SessionID: "s", Catalogs: cats, Tuning: tuning.Defaults(), Logger: zerolog.Nop()})
	obs := observer.NewServer(func() observerproto.BootstrapResponse { return a.Status() }, zerolog.Nop())

	ts := httptest.NewServer(observeMux(obs, a, false))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])

	resp2, err := http.Get(ts.URL + "/observer/bootstrap")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var boot observerproto.BootstrapResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&boot))
	assert.Equal(t, "s", boot.SessionID)
	assert.Equal(t, cats.Digest(), boot.CatalogDigest)

	resp3, err := http.Get(ts.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}
