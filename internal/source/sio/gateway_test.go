package sio

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGateway is an in-process ScaleIO REST gateway.
type fakeGateway struct {
	t        *testing.T
	user     string
	password string

	mu         sync.Mutex
	token      string
	logins     int
	listings   map[string]int
	queries    [][]StatisticsQuery
	instances  map[string][]Instance
	statistics map[string]any
	failStats  bool
}

func newFakeGateway(t *testing.T) (*fakeGateway, *httptest.Server) {
	t.Helper()
	g := &fakeGateway{
		t:        t,
		user:     "admin",
		password: "secret",
		listings: make(map[string]int),
		instances: map[string][]Instance{
			SystemType: {{ID: "sys-id", Name: "cluster1"}},
			"Sds":      {{ID: "sds1", Name: "node-a"}, {ID: "sds2", Name: "node-b"}},
		},
		statistics: map[string]any{
			SystemType: map[string]any{
				"capacityInUseInKb": 2048,
				"primaryReadBwc":    map[string]any{"numOccured": 100, "numSeconds": 5, "totalWeightInKb": 400},
			},
			"Sds": map[string]any{
				"sds1": map[string]any{"capacityInUseInKb": 10},
				"sds2": map[string]any{"capacityInUseInKb": 20},
			},
		},
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

// expireSession invalidates the current token.
func (g *fakeGateway) expireSession() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = "expired"
}

func (g *fakeGateway) counts() (logins int, listings map[string]int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := make(map[string]int, len(g.listings))
	for k, v := range g.listings {
		copied[k] = v
	}
	return g.logins, copied
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	user, pass, _ := r.BasicAuth()
	if r.URL.Path == "/api/login" {
		if user != g.user || pass != g.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		g.logins++
		g.token = fmt.Sprintf("token-%d", g.logins)
		json.NewEncoder(w).Encode(g.token)
		return
	}

	if user != "" || pass == "" || pass != g.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/api/types/") && strings.HasSuffix(r.URL.Path, "/instances"):
		typ := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/types/"), "/instances")
		g.listings[typ]++
		list, ok := g.instances[typ]
		if !ok {
			http.Error(w, "unknown type", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(list)

	case r.URL.Path == "/api/instances/querySelectedStatistics" && r.Method == http.MethodPost:
		if g.failStats {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		var body struct {
			SelectedStatisticsList []StatisticsQuery `json:"selectedStatisticsList"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.queries = append(g.queries, body.SelectedStatisticsList)
		json.NewEncoder(w).Encode(g.statistics)

	default:
		http.NotFound(w, r)
	}
}
