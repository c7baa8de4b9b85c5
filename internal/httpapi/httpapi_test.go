package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportsbook-ops/backbone/infrastructure/httputil"
	"github.com/sportsbook-ops/backbone/infrastructure/logging"
	"github.com/sportsbook-ops/backbone/internal/chatbot"
	"github.com/sportsbook-ops/backbone/internal/domain/agentgraph"
	"github.com/sportsbook-ops/backbone/internal/domain/commission"
	"github.com/sportsbook-ops/backbone/internal/domain/eventbus"
	"github.com/sportsbook-ops/backbone/internal/domain/ledger"
	"github.com/sportsbook-ops/backbone/internal/domain/matchingqueue"
	"github.com/sportsbook-ops/backbone/internal/domain/model"
	"github.com/sportsbook-ops/backbone/internal/domain/sse"
	"github.com/sportsbook-ops/backbone/internal/domain/store"
	"github.com/sportsbook-ops/backbone/internal/domain/store/memory"
	"github.com/sportsbook-ops/backbone/internal/domain/wagerengine"
)

func testRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	s := memory.New()
	logger := logging.New("test", "error", "json")
	bus := eventbus.New(logger, eventbus.Config{})
	pub := eventbus.NewAdapter(bus)
	l := ledger.New(s, logger, 100)

	queue := matchingqueue.New(s, l, logger, pub, matchingqueue.Config{ReservationTTL: time.Second})
	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(func() { _ = queue.Stop(context.Background()) })

	deps := Deps{
		Store:       s,
		AgentGraph:  agentgraph.New(s, logger, pub, agentgraph.Config{MaxHierarchyDepth: 8}),
		WagerEngine: wagerengine.New(s, l, logger, pub, wagerengine.Config{SportMinStake: 100, BetTypeMaxOdds: 1000}),
		Commissions: commission.New(s, l, logger, pub, commission.Config{DefaultStructureID: "default"}),
		Queue:       queue,
		SSE:         sse.New(bus, nil, logger, 64, sse.Config{HeartbeatInterval: time.Hour}),
		Chatbot:     chatbot.New(bus, logger, chatbot.Config{}, nil),
		Logger:      logger,
	}
	ready := new(bool)
	*ready = true
	return NewRouter(deps, Config{}, ready), s
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) httputil.Envelope {
	t.Helper()
	var env httputil.Envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env))
	return env
}

func TestHealthzReportsHealthy(t *testing.T) {
	r, _ := testRouter(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCreateAgentThenHierarchy(t *testing.T) {
	r, _ := testRouter(t)

	resp := doJSON(t, r, http.MethodPost, "/agents/", createAgentRequest{
		Login: "master-1", Type: model.AgentTypeMaster, OfficeTag: "EU",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	env := decodeEnvelope(t, resp)
	require.Equal(t, "success", env.Status)

	created := env.Data.(map[string]interface{})
	agentID := created["ID"].(string)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/agents/"+agentID+"/hierarchy", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestCreateWagerRejectsBelowMinStake(t *testing.T) {
	r, s := testRouter(t)

	require.NoError(t, store.WithTx(context.Background(), s, func(tx store.Tx) error {
		return tx.PutEvent(context.Background(), &model.Event{ID: "evt-1", Status: model.EventStatusScheduled})
	}))

	resp := doJSON(t, r, http.MethodPost, "/wagers/", createWagerRequest{
		CustomerID: "cust-1", AgentID: "agent-1", EventID: "evt-1",
		BetType: "moneyline", Selection: "home", Stake: 1, OddsMilli: 1910, Currency: "USD",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, "error", env.Status)
}

func TestEnqueueQueueItemThenStats(t *testing.T) {
	r, _ := testRouter(t)

	resp := doJSON(t, r, http.MethodPost, "/queue/items", enqueueItemRequest{
		Direction: model.DirectionDeposit, CustomerID: "cust-1", Amount: 500, Currency: "USD",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	env := decodeEnvelope(t, resp)
	stats := env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), stats["Queued"])
}

func TestSettlementHistoryRequiresEventID(t *testing.T) {
	r, _ := testRouter(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/settlements", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
