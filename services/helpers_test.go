package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"nodewatch/models"
)

var errInjected = errors.New("injected failure")

// faultyCollection wraps a MemoryCollection with switchable failures.
type faultyCollection struct {
	*MemoryCollection

	mu             sync.Mutex
	dropOnInsert   int // silently lose this many docs from the next insert
	insertErr      error
	deleteErr      error
	countErr       error
	deleteFailures int // fail this many deletes before succeeding
	deleteCalls    int
	insertCalls    int
}

func (f *faultyCollection) DeleteAll(ctx context.Context) (int64, error) {
	f.mu.Lock()
	f.deleteCalls++
	if f.deleteErr != nil {
		err := f.deleteErr
		f.mu.Unlock()
		return 0, err
	}
	if f.deleteFailures > 0 {
		f.deleteFailures--
		f.mu.Unlock()
		return 0, errInjected
	}
	f.mu.Unlock()
	return f.MemoryCollection.DeleteAll(ctx)
}

func (f *faultyCollection) setDeleteErr(err error) {
	f.mu.Lock()
	f.deleteErr = err
	f.mu.Unlock()
}

func (f *faultyCollection) deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

func (f *faultyCollection) InsertMany(ctx context.Context, docs []interface{}) error {
	f.mu.Lock()
	f.insertCalls++
	if f.insertErr != nil {
		err := f.insertErr
		f.insertErr = nil
		f.mu.Unlock()
		return err
	}
	drop := f.dropOnInsert
	f.dropOnInsert = 0
	f.mu.Unlock()

	if drop > 0 && drop <= len(docs) {
		docs = docs[:len(docs)-drop]
	}
	return f.MemoryCollection.InsertMany(ctx, docs)
}

func (f *faultyCollection) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	err := f.countErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.MemoryCollection.Count(ctx)
}

// faultyDatabase hands out faultyCollections backed by a MemoryDatabase.
type faultyDatabase struct {
	mem *MemoryDatabase

	mu    sync.Mutex
	colls map[string]*faultyCollection
}

func newFaultyDatabase() *faultyDatabase {
	return &faultyDatabase{mem: NewMemoryDatabase(), colls: make(map[string]*faultyCollection)}
}

func (d *faultyDatabase) Collection(name string) DocumentCollection {
	return d.faulty(name)
}

func (d *faultyDatabase) faulty(name string) *faultyCollection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.colls[name]
	if !ok {
		c = &faultyCollection{MemoryCollection: d.mem.MemoryCollection(name)}
		d.colls[name] = c
	}
	return c
}

func decodeAll[T any](raws []bson.Raw) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := bson.Unmarshal(raw, &v); err != nil {
			panic(err)
		}
		out = append(out, v)
	}
	return out
}

// fakeNodeAPI answers the node protocol from in-memory tables.
type fakeNodeAPI struct {
	mu sync.Mutex

	seedInfo  map[string]*models.NodeInfoResponse // by seed URL
	seedPeers map[string][]models.Node             // by seed URL
	hostPeers map[string][]models.Node             // by host
	hostInfo  map[string]*models.NodeInfoResponse // by host
	hostChain map[string]*models.ChainInfoResponse
	down      map[string]bool // hosts that fail every call
	wsUp      map[string]bool

	peerCalls []string
	panicOn   string
}

func newFakeNodeAPI() *fakeNodeAPI {
	return &fakeNodeAPI{
		seedInfo:  make(map[string]*models.NodeInfoResponse),
		seedPeers: make(map[string][]models.Node),
		hostPeers: make(map[string][]models.Node),
		hostInfo:  make(map[string]*models.NodeInfoResponse),
		hostChain: make(map[string]*models.ChainInfoResponse),
		down:      make(map[string]bool),
		wsUp:      make(map[string]bool),
	}
}

func (f *fakeNodeAPI) GetNodeInfo(_ context.Context, baseURL string) (*models.NodeInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == baseURL {
		panic("boom: " + baseURL)
	}
	info, ok := f.seedInfo[baseURL]
	if !ok {
		return nil, fmt.Errorf("%s: %w", baseURL, errInjected)
	}
	c := *info
	return &c, nil
}

func (f *fakeNodeAPI) GetPeers(_ context.Context, baseURL string) ([]models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	peers, ok := f.seedPeers[baseURL]
	if !ok {
		return nil, errInjected
	}
	return append([]models.Node(nil), peers...), nil
}

func (f *fakeNodeAPI) GetHostPeers(_ context.Context, host string) ([]models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peerCalls = append(f.peerCalls, host)
	if f.down[host] {
		return nil, errInjected
	}
	return append([]models.Node(nil), f.hostPeers[host]...), nil
}

func (f *fakeNodeAPI) LocateNodeInfo(_ context.Context, host string) (*models.NodeInfoResponse, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.hostInfo[host]
	if !ok || f.down[host] {
		return nil, "", errInjected
	}
	c := *info
	return &c, "https://" + host + ":3001", nil
}

func (f *fakeNodeAPI) FallbackBaseURL(host string) string {
	return "http://" + host + ":3000"
}

func (f *fakeNodeAPI) hostOf(baseURL string) string {
	for host := range f.hostInfo {
		if baseURL == "https://"+host+":3001" || baseURL == "http://"+host+":3000" {
			return host
		}
	}
	return ""
}

func (f *fakeNodeAPI) GetChainInfo(_ context.Context, baseURL string) (*models.ChainInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := f.hostOf(baseURL)
	chain, ok := f.hostChain[host]
	if !ok || f.down[host] {
		return nil, errInjected
	}
	return chain, nil
}

func (f *fakeNodeAPI) GetServerInfo(_ context.Context, baseURL string) (*models.ServerInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := f.hostOf(baseURL)
	if host == "" || f.down[host] {
		return nil, errInjected
	}
	var info models.ServerInfoResponse
	info.ServerInfo.RestVersion = "2.4.4"
	return &info, nil
}

func (f *fakeNodeAPI) GetNodeHealth(_ context.Context, baseURL string) (*models.NodeHealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host := f.hostOf(baseURL)
	if host == "" || f.down[host] {
		return nil, errInjected
	}
	return &models.NodeHealthResponse{Status: models.NodeStatus{APINode: "up", DB: "up"}}, nil
}

func (f *fakeNodeAPI) ProbeWebSocket(_ context.Context, baseURL string) *models.WebSocketStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.WebSocketStatus{IsAvailable: f.wsUp[f.hostOf(baseURL)], URL: baseURL + "/ws"}
}

type fakePeerProber struct {
	up    map[string]bool
	calls int32
}

func (p *fakePeerProber) Probe(_ context.Context, host string, _ int) bool {
	atomic.AddInt32(&p.calls, 1)
	return p.up[host]
}

type fakeLocator struct {
	calls int32
}

func (l *fakeLocator) Lookup(_ context.Context, host string) (*models.HostDetail, error) {
	atomic.AddInt32(&l.calls, 1)
	if host == "unknown.example" {
		return nil, errInjected
	}
	return &models.HostDetail{Host: host, Country: "Japan", Location: "Tokyo, Tokyo, Japan"}, nil
}

type fakeRewards struct {
	programs map[string][]models.RewardProgram
}

func (r *fakeRewards) GetRewardPrograms(_ context.Context, nodePublicKey string) ([]models.RewardProgram, error) {
	p, ok := r.programs[nodePublicKey]
	if !ok {
		return nil, errInjected
	}
	return p, nil
}

type recordingNotifier struct {
	calls int32
}

func (n *recordingNotifier) NotifyCycleFailures(int, error) {
	atomic.AddInt32(&n.calls, 1)
}

var testIdentity = models.NetworkIdentity{NetworkIdentifier: 104, GenerationHashSeed: "57F7DA20"}

func descriptor(pk, host string, roles models.Role) models.Node {
	return models.Node{
		PublicKey:                 pk,
		Host:                      host,
		Port:                      7900,
		Roles:                     roles,
		Version:                   0x01000306,
		NetworkIdentifier:         testIdentity.NetworkIdentifier,
		NetworkGenerationHashSeed: testIdentity.GenerationHashSeed,
	}
}

func infoFor(n models.Node) *models.NodeInfoResponse {
	return &models.NodeInfoResponse{
		PublicKey:                 n.PublicKey,
		NetworkIdentifier:         n.NetworkIdentifier,
		NetworkGenerationHashSeed: n.NetworkGenerationHashSeed,
		Host:                      n.Host,
		Port:                      n.Port,
		Roles:                     int(n.Roles),
		NodePublicKey:             "NODE-" + n.PublicKey,
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
