package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leishou0891/RAMCloud/internal/cluster"
	"github.com/leishou0891/RAMCloud/internal/serverlist"
	"github.com/leishou0891/RAMCloud/internal/tabletmap"
)

func postJSON(t *testing.T, body any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHandleTabletRequestRejectsUnassignedTable(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	rr := httptest.NewRecorder()
	n.handleTabletRequest(rr, httptest.NewRequest("GET", "/tablet/1/store/hello", nil))
	assert.Equal(t, http.StatusMisdirectedRequest, rr.Code)
}

func TestHandlePutThenGetRoundTrip(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	n.setTablets([]tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}})

	put := httptest.NewRequest("PUT", "/tablet/1/store/hello", bytes.NewReader([]byte("world")))
	prr := httptest.NewRecorder()
	n.handleTabletRequest(prr, put)
	require.Equal(t, 204, prr.Code)

	get := httptest.NewRequest("GET", "/tablet/1/store/hello", nil)
	grr := httptest.NewRecorder()
	n.handleTabletRequest(grr, get)
	require.Equal(t, 200, grr.Code)
	assert.Equal(t, "world", grr.Body.String())
}

func TestHandleGetMissingKeyReturns404(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	n.setTablets([]tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}})
	rr := httptest.NewRecorder()
	n.handleTabletRequest(rr, httptest.NewRequest("GET", "/tablet/1/store/nope", nil))
	assert.Equal(t, 404, rr.Code)
}

func TestHandleDeleteIsIdempotent(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	n.setTablets([]tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}})
	rr := httptest.NewRecorder()
	n.handleTabletRequest(rr, httptest.NewRequest("DELETE", "/tablet/1/store/nope", nil))
	assert.Equal(t, 204, rr.Code)
}

func TestHandleSetTabletsDropsUnlistedTablets(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	n.setTablets([]tabletmap.Tablet{
		{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey},
		{TableId: 2, StartKey: 0, EndKey: tabletmap.MaxKey},
	})

	rr := httptest.NewRecorder()
	n.handleSetTablets(rr, httptest.NewRequest("POST", "/setTablets", postJSON(t, map[string]any{
		"tablets": []tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}},
	})))
	require.Equal(t, 204, rr.Code)

	_, ok := n.getTablet(1)
	assert.True(t, ok)
	_, ok = n.getTablet(2)
	assert.False(t, ok)
}

func TestHandleSetTabletsPreservesDataForUnchangedRange(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	n.setTablets([]tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}})

	put := httptest.NewRequest("PUT", "/tablet/1/store/hello", bytes.NewReader([]byte("world")))
	prr := httptest.NewRecorder()
	n.handleTabletRequest(prr, put)
	require.Equal(t, 204, prr.Code)

	rr := httptest.NewRecorder()
	n.handleSetTablets(rr, httptest.NewRequest("POST", "/setTablets", postJSON(t, map[string]any{
		"tablets": []tabletmap.Tablet{{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey}},
	})))
	require.Equal(t, 204, rr.Code)

	get := httptest.NewRequest("GET", "/tablet/1/store/hello", nil)
	grr := httptest.NewRecorder()
	n.handleTabletRequest(grr, get)
	require.Equal(t, 200, grr.Code)
	assert.Equal(t, "world", grr.Body.String())
}

func TestHandleIncrementalAppliesInOrderDelta(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	id := cluster.ServerId{Index: 1, Generation: 1}

	rr := httptest.NewRecorder()
	n.handleIncremental(rr, httptest.NewRequest("POST", "/membership/incremental", postJSON(t, map[string]any{
		"version": 1,
		"records": []serverlist.DeltaRecord{
			{Event: serverlist.EventAdded, Entry: serverlist.ServerEntry{ServerId: id, ServiceLocator: "mock:host=m1"}},
		},
	})))
	require.Equal(t, 200, rr.Code)

	n.membership.mu.Lock()
	_, known := n.membership.entries[id]
	version := n.membership.version
	n.membership.mu.Unlock()
	assert.True(t, known)
	assert.Equal(t, uint64(1), version)
}

func TestHandleIncrementalOutOfOrderReportsLostUpdate(t *testing.T) {
	n := newNode("http://coordinator.invalid")

	rr := httptest.NewRecorder()
	n.handleIncremental(rr, httptest.NewRequest("POST", "/membership/incremental", postJSON(t, map[string]any{
		"version": 5,
		"records": []serverlist.DeltaRecord{},
	})))

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "lost_update", resp.Status)
}

func TestHandleFullReplacesMembership(t *testing.T) {
	n := newNode("http://coordinator.invalid")
	id := cluster.ServerId{Index: 2, Generation: 1}

	rr := httptest.NewRecorder()
	n.handleFull(rr, httptest.NewRequest("POST", "/membership/full", postJSON(t, map[string]any{
		"version": 9,
		"entries": []serverlist.ServerEntry{{ServerId: id, ServiceLocator: "mock:host=m2"}},
	})))
	require.Equal(t, 200, rr.Code)

	n.membership.mu.Lock()
	defer n.membership.mu.Unlock()
	assert.Len(t, n.membership.entries, 1)
	assert.Equal(t, uint64(9), n.membership.version)
}

func TestHandleRecoverPartitionCreatesTabletAndReports(t *testing.T) {
	reported := make(chan struct{}, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/tabletsRecovered", func(w http.ResponseWriter, r *http.Request) {
		reported <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	})
	coordinator := httptest.NewServer(mux)
	defer coordinator.Close()

	n := newNode(coordinator.URL)
	n.ID = cluster.ServerId{Index: 3, Generation: 1}
	n.ServiceLocator = "mock:host=recovered"

	rr := httptest.NewRecorder()
	n.handleRecoverPartition(rr, httptest.NewRequest("POST", "/recoverPartition", postJSON(t, map[string]any{
		"dead_server_id": cluster.ServerId{Index: 9, Generation: 1},
		"tablets": []tabletmap.Tablet{
			{TableId: 1, StartKey: 0, EndKey: tabletmap.MaxKey},
		},
	})))
	require.Equal(t, 204, rr.Code)

	tab, ok := n.getTablet(1)
	require.True(t, ok)

	select {
	case <-reported:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator never received tabletsRecovered report")
	}
	_ = tab
}

func TestParseServicesCombinesFlags(t *testing.T) {
	mask := parseServices("master,ping")
	assert.True(t, mask.Has(cluster.Master))
	assert.True(t, mask.Has(cluster.Ping))
	assert.False(t, mask.Has(cluster.Backup))
}
