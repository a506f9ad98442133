package services

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodewatch/config"
)

// nodeServer fakes the REST gateway of an Api node.
func nodeServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/node/info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":16777990,"publicKey":"A","networkGenerationHashSeed":"57F7DA20","roles":3,"port":7900,"networkIdentifier":104,"host":"a.example","friendlyName":"alpha","nodePublicKey":"NODE-A"}`))
	})
	mux.HandleFunc("/node/peers", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"publicKey":"B","networkGenerationHashSeed":"57F7DA20","roles":1,"port":7900,"networkIdentifier":104,"host":"b.example"},
			{"publicKey":"","roles":1,"host":"anon.example"}
		]`))
	})
	mux.HandleFunc("/chain/info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"height":"1523","latestFinalizedBlock":{"height":1520,"finalizationEpoch":7,"finalizationPoint":3,"hash":"ABCD"}}`))
	})
	mux.HandleFunc("/node/server", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"serverInfo":{"restVersion":"2.4.4","sdkVersion":"3.0.0"}}`))
	})
	mux.HandleFunc("/node/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":{"apiNode":"up","db":"up"}}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			conn.Close()
		}
	})
	mux.HandleFunc("/slow/node/info", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func clientFor(t *testing.T, srv *httptest.Server, timeout time.Duration) (*NodeClient, string) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Node.APIHTTPSPort = port // plain listener, so the HTTPS attempt fails
	cfg.Node.APIHTTPPort = port
	cfg.Node.RequestTimeout = int(timeout / time.Millisecond)
	return NewNodeClient(cfg), host
}

func TestNodeClientEndpoints(t *testing.T) {
	ctx := context.Background()
	srv := nodeServer(t)
	client, _ := clientFor(t, srv, time.Second)

	info, err := client.GetNodeInfo(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "A", info.PublicKey)
	assert.Equal(t, "NODE-A", info.NodePublicKey)
	assert.EqualValues(t, 16777990, info.Version)

	peers, err := client.GetPeers(ctx, srv.URL)
	require.NoError(t, err)
	require.Len(t, peers, 1, "descriptors without a public key are skipped")
	assert.Equal(t, "B", peers[0].PublicKey)

	chain, err := client.GetChainInfo(ctx, srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1523, chain.Height)
	assert.EqualValues(t, 1520, chain.LatestFinalizedBlock.Height)

	server, err := client.GetServerInfo(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "2.4.4", server.ServerInfo.RestVersion)

	health, err := client.GetNodeHealth(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "up", health.Status.DB)

	ws := client.ProbeWebSocket(ctx, srv.URL)
	assert.True(t, ws.IsAvailable)
	assert.False(t, ws.WSS)
	assert.Equal(t, "ws"+srv.URL[len("http"):]+"/ws", ws.URL)
}

func TestNodeClientFallsBackToHTTP(t *testing.T) {
	ctx := context.Background()
	srv := nodeServer(t)
	client, host := clientFor(t, srv, time.Second)

	info, baseURL, err := client.LocateNodeInfo(ctx, host)
	require.NoError(t, err)
	assert.Equal(t, "A", info.PublicKey)
	assert.Equal(t, client.HTTPBaseURL(host), baseURL)

	peers, err := client.GetHostPeers(ctx, host)
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestNodeClientTimesOut(t *testing.T) {
	srv := nodeServer(t)
	client, _ := clientFor(t, srv, 50*time.Millisecond)

	started := time.Now()
	_, err := client.GetNodeInfo(context.Background(), srv.URL+"/slow")
	require.Error(t, err)
	assert.Less(t, time.Since(started), time.Second)
}

func TestNodeClientHTTPError(t *testing.T) {
	srv := nodeServer(t)
	client, _ := clientFor(t, srv, time.Second)

	_, err := client.GetChainInfo(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	prober := NewTCPProber(500*time.Millisecond, 1.1)
	assert.True(t, prober.Probe(context.Background(), "127.0.0.1", port))

	ln.Close()
	assert.False(t, prober.Probe(context.Background(), "127.0.0.1", port))
}

func TestRewardsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nodes/nodepublickey/NODE-A":
			_, _ = w.Write([]byte(`{"id":"1","rewardProgram":"SuperNode","passed":true}`))
		case "/nodes/nodepublickey/BROKEN":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewRewardsClient(srv.URL+"/", time.Second, 1.1)

	programs, err := client.GetRewardPrograms(ctx, "NODE-A")
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.Equal(t, "SuperNode", programs[0].Name)
	assert.True(t, programs[0].Passed)

	programs, err = client.GetRewardPrograms(ctx, "NODE-Z")
	require.NoError(t, err)
	assert.Empty(t, programs)

	_, err = client.GetRewardPrograms(ctx, "BROKEN")
	assert.Error(t, err)

	var disabled *RewardsClient = NewRewardsClient("", time.Second, 1.1)
	programs, err = disabled.GetRewardPrograms(ctx, "NODE-A")
	require.NoError(t, err)
	assert.Empty(t, programs)
}
