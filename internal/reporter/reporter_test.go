package reporter

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/pagevitals/pkg/types"
	"github.com/saveenergy/pagevitals/pkg/vitals"
)

func parse(t *testing.T, args ...string) *Flags {
	t.Helper()
	f := &Flags{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.Register(fs)
	require.NoError(t, fs.Parse(args))
	return f
}

func TestEndpointURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":             "http://localhost:8080/api/performance",
		"http://localhost:8080/":            "http://localhost:8080/api/performance",
		"https://vitals.example.com/ingest": "https://vitals.example.com/ingest",
	}
	for in, want := range cases {
		got, err := endpointURL(in, vitals.DefaultReportingEndpoint)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := endpointURL("ftp://example.com", vitals.DefaultReportingEndpoint)
	assert.Error(t, err)
}

func TestOptionsFromConfigAndFlags(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "vitals.yaml", []byte("bufferSize: 20\nurl: https://config.example.com/\n"), 0o644))

	f := parse(t, "--config", "vitals.yaml", "--url", "https://flag.example.com/", "--debug")
	opts, err := f.Options(fs)
	require.NoError(t, err)
	assert.Equal(t, 20, opts.BufferSize)
	assert.Equal(t, "https://flag.example.com/", opts.PageURL)
	assert.True(t, opts.DebugMode)

	_, err = parse(t, "--config", "missing.yaml").Options(fs)
	assert.Error(t, err)
}

func TestTransportRequiresDestination(t *testing.T) {
	_, _, err := parse(t).Transport(afero.NewMemMapFs(), vitals.DefaultOptions())
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestTransportSpoolAndMulti(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := parse(t, "--out", "reports.jsonl")
	tr, closeFn, err := f.Transport(fs, vitals.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, tr.Send(t.Context(), &types.Report{URL: "https://example.com/"}))
	require.NoError(t, closeFn())

	reports, err := vitals.ReadSpool(fs, "reports.jsonl")
	require.NoError(t, err)
	require.Len(t, reports, 1)

	multi, closeFn, err := parse(t, "--out", "b.jsonl", "--endpoint", "http://127.0.0.1:1").Transport(fs, vitals.DefaultOptions())
	require.NoError(t, err)
	assert.IsType(t, vitals.MultiTransport{}, multi)
	assert.NoError(t, closeFn())
}

func TestCheckPageURL(t *testing.T) {
	opts := vitals.DefaultOptions()

	assert.NoError(t, (&Flags{Out: "reports.jsonl"}).CheckPageURL(opts))

	err := (&Flags{Endpoint: "http://collector"}).CheckPageURL(opts)
	require.ErrorIs(t, err, ErrNoPageURL)
	assert.True(t, IsUsageError(err))
	assert.True(t, IsUsageError(ErrNoDestination))

	opts.PageURL = "https://example.com/"
	assert.NoError(t, (&Flags{Endpoint: "http://collector"}).CheckPageURL(opts))
}
