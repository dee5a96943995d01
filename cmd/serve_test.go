package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/api"
	"github.com/sells-group/phonetrust/internal/model"
)

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "mysql"

	_, err := initStore(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitStore_PostgresNeedsURL(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	_, err := initStore(t.Context())
	assert.Error(t, err)
}

func TestInitCalculator_Sources(t *testing.T) {
	tests := []struct {
		source    string
		tablePath string
		wantErr   bool
	}{
		{source: "store"},
		{source: "builtin"},
		{source: "file", tablePath: "certainty.yaml"},
		{source: "file", wantErr: true},
		{source: "consul", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			cfg = testConfig(t)
			cfg.Certainty.Source = tt.source
			cfg.Certainty.TablePath = tt.tablePath

			calc, err := initCalculator(nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, calc)
		})
	}
}

func TestTrustEnv_CloseNilStore(t *testing.T) {
	env := &trustEnv{}
	assert.NotPanics(t, env.Close)
}

func TestInitEnv_RejectsIncompleteConfig(t *testing.T) {
	cfg = testConfig(t)
	cfg.OCR.Provider = "mistral"

	_, err := initEnv(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.mistral_api_key")
}

func TestInitEnv_ServesTrustAPI(t *testing.T) {
	cfg = testConfig(t)
	cfg.Certainty.Source = "builtin"

	env, err := initEnv(t.Context())
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.healthCheck(t.Context()))

	handler := api.NewHandler(env.Validator, env.Calc, cfg.Scoring.Weights, int64(cfg.Server.MaxUploadMB)<<20)
	srv := httptest.NewServer(api.NewRouter(handler, api.RouterConfig{
		Gatherer: env.Registry,
		Health:   env.healthCheck,
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/phones/+2250707070707/otp", strings.NewReader(`{"token":"otp-1"}`))
	require.NoError(t, err)
	req.Header.Set(api.UserHeader, "user-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		State    model.PhoneTrustState    `json:"state"`
		Progress model.ValidationProgress `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.State.OTPVerified)

	// The progress command reads the same store.
	progressPhone, progressUser = "+2250707070707", "user-1"
	t.Cleanup(func() { progressPhone, progressUser = "", "" })
	out, err := runCmd(t, progressCmd)
	require.NoError(t, err)

	var progress model.ValidationProgress
	require.NoError(t, json.Unmarshal([]byte(out), &progress))
	assert.Equal(t, body.Progress, progress)
}

func TestInitEnv_RegistersMetrics(t *testing.T) {
	cfg = testConfig(t)
	cfg.Certainty.Source = "builtin"

	env, err := initEnv(t.Context())
	require.NoError(t, err)
	defer env.Close()

	families, err := env.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
