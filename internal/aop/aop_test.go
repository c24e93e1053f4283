package aop

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scieloorg/pidmanager/internal/pid"
)

const indexJSONL = `{"doi": "10.1590/ABC.2020.001", "previous_pid": "S0000-00002019005000001"}

{"filename": "aop/a02.xml", "previous_pid": "S0000-00002019005000002"}
{"doi": "10.1590/empty", "previous_pid": ""}
`

func TestReadIndex(t *testing.T) {
	idx, err := ReadIndex(strings.NewReader(indexJSONL))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	ctx := context.Background()
	tests := []struct {
		name string
		ids  pid.DocumentIdentifiers
		want string
	}{
		{"doi is case insensitive", pid.DocumentIdentifiers{DOI: "10.1590/abc.2020.001"}, "S0000-00002019005000001"},
		{"doi url prefix", pid.DocumentIdentifiers{DOI: "https://doi.org/10.1590/abc.2020.001"}, "S0000-00002019005000001"},
		{"filename without dir or ext", pid.DocumentIdentifiers{Filename: "/pkg/a02.xml"}, "S0000-00002019005000002"},
		{"doi before filename", pid.DocumentIdentifiers{DOI: "10.1590/abc.2020.001", Filename: "a02.xml"}, "S0000-00002019005000001"},
		{"unknown", pid.DocumentIdentifiers{DOI: "10.1590/other", Filename: "zz.xml"}, ""},
		{"entry without previous id ignored", pid.DocumentIdentifiers{DOI: "10.1590/empty"}, ""},
		{"nothing to match", pid.DocumentIdentifiers{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := idx.PreviousID(ctx, tt.ids)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadIndex_BadLine(t *testing.T) {
	_, err := ReadIndex(strings.NewReader("{\"doi\": \"x\", \"previous_pid\": \"y\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing line 2")
}

func TestLoadIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aop.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(indexJSONL), 0644))

	idx, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	_, err = LoadIndex(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	empty := ResolverFunc(func(context.Context, pid.DocumentIdentifiers) (string, error) { return "", nil })
	found := ResolverFunc(func(context.Context, pid.DocumentIdentifiers) (string, error) { return "PREV", nil })
	boom := errors.New("boom")
	failing := ResolverFunc(func(context.Context, pid.DocumentIdentifiers) (string, error) { return "", boom })

	got, err := Chain{nil, empty, found, failing}.PreviousID(ctx, pid.DocumentIdentifiers{})
	require.NoError(t, err)
	assert.Equal(t, "PREV", got)

	_, err = Chain{empty, failing, found}.PreviousID(ctx, pid.DocumentIdentifiers{})
	assert.ErrorIs(t, err, boom)

	got, err = Chain{}.PreviousID(ctx, pid.DocumentIdentifiers{})
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestClient_PreviousID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/previous-pid" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("doi") {
		case "10.1590/aop":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"previous_pid": "S0000-00002019005000001"}`))
		case "10.1590/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		case "10.1590/broken":
			w.Write([]byte(`not json`))
		case "10.1590/fail":
			http.Error(w, "database down", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", WithRateLimit(1000))
	ctx := context.Background()

	got, err := c.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/aop"})
	require.NoError(t, err)
	assert.Equal(t, "S0000-00002019005000001", got)

	got, err = c.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/unknown"})
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = c.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/busy"})
	assert.True(t, IsRateLimited(err))

	_, err = c.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/broken"})
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = c.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/fail"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database down", apiErr.Message)
}

func TestClient_SkipsRequestWithoutKeys(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL).PreviousID(context.Background(), pid.DocumentIdentifiers{ShortID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).PreviousID(context.Background(), pid.DocumentIdentifiers{DOI: "x"})
	assert.ErrorIs(t, err, ErrNetworkError)
}

type fakeRunner struct {
	out   string
	err   error
	calls int
}

func (f *fakeRunner) Run(_ context.Context, host, command string) ([]byte, error) {
	f.calls++
	return []byte(f.out), f.err
}

func TestSSHSource_FetchesIndexOnce(t *testing.T) {
	runner := &fakeRunner{out: indexJSONL}
	src := &SSHSource{Host: "aop.example.org", Command: "cat aop.jsonl", Runner: runner}
	ctx := context.Background()

	got, err := src.PreviousID(ctx, pid.DocumentIdentifiers{Filename: "a02.xml"})
	require.NoError(t, err)
	assert.Equal(t, "S0000-00002019005000002", got)

	got, err = src.PreviousID(ctx, pid.DocumentIdentifiers{DOI: "10.1590/abc.2020.001"})
	require.NoError(t, err)
	assert.Equal(t, "S0000-00002019005000001", got)

	assert.Equal(t, 1, runner.calls)
}

func TestSSHSource_Errors(t *testing.T) {
	boom := errors.New("dial failed")
	src := &SSHSource{Host: "h", Command: "c", Runner: &fakeRunner{err: boom}}
	_, err := src.PreviousID(context.Background(), pid.DocumentIdentifiers{DOI: "x"})
	assert.ErrorIs(t, err, boom)

	src = &SSHSource{Host: "h", Command: "c", Runner: &fakeRunner{out: "garbage"}}
	_, err = src.PreviousID(context.Background(), pid.DocumentIdentifiers{DOI: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index from h")
}

func TestWrapSSHError(t *testing.T) {
	err := wrapSSHError(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey], no supported methods remain"), "h")
	assert.Contains(t, err.Error(), "authentication failed for h")

	err = wrapSSHError(errors.New("dial tcp: connect: connection refused"), "h")
	assert.Contains(t, err.Error(), "connection refused by h")

	inner := errors.New("something else")
	assert.ErrorIs(t, wrapSSHError(inner, "h"), inner)
}
