package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datagate-io/datagate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreatorRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateCreator(ctx, "user_1", "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := store.Creator(ctx, created.ID)
	if err != nil {
		t.Fatalf("Creator: %v", err)
	}
	if got.Name != "Ada" || got.Email != "ada@example.com" || got.UserID != "user_1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	byUser, err := store.CreatorByUserID(ctx, "user_1")
	if err != nil {
		t.Fatalf("CreatorByUserID: %v", err)
	}
	if byUser.ID != created.ID {
		t.Errorf("expected %s, got %s", created.ID, byUser.ID)
	}
}

func TestCreatorNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Creator(context.Background(), "missing")
	if !errors.Is(err, datagate.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentAPIKeyLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	agent, err := store.CreateAgent(ctx, "user_2", "crawler")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if agent.APIKey != nil {
		t.Error("new agent should have no api key")
	}

	updated, err := store.UpdateAgentAPIKey(ctx, agent.ID, "sk_live_deadbeef")
	if err != nil {
		t.Fatalf("UpdateAgentAPIKey: %v", err)
	}
	if updated.APIKey == nil || *updated.APIKey != "sk_live_deadbeef" {
		t.Fatalf("api key not set: %+v", updated)
	}

	byKey, err := store.AgentByAPIKey(ctx, "sk_live_deadbeef")
	if err != nil {
		t.Fatalf("AgentByAPIKey: %v", err)
	}
	if byKey.ID != agent.ID {
		t.Errorf("expected agent %s, got %s", agent.ID, byKey.ID)
	}

	if _, err := store.AgentByAPIKey(ctx, "sk_live_unknown"); !errors.Is(err, datagate.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown key, got %v", err)
	}
	if _, err := store.UpdateAgentAPIKey(ctx, "missing", "sk_live_x"); !errors.Is(err, datagate.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing agent, got %v", err)
	}
}

func TestDataSourcesByCreatorNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	creator, err := store.CreateCreator(ctx, "user_3", "Ada", "ada3@example.com")
	if err != nil {
		t.Fatalf("CreateCreator: %v", err)
	}

	limit := int64(100)
	first, err := store.CreateDataSource(ctx, creator.ID, "https://api.example.com/weather", "0.10", &limit)
	if err != nil {
		t.Fatalf("CreateDataSource: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := store.CreateDataSource(ctx, creator.ID, "https://api.example.com/stocks", "0.05", nil)
	if err != nil {
		t.Fatalf("CreateDataSource: %v", err)
	}

	sources, err := store.DataSourcesByCreator(ctx, creator.ID)
	if err != nil {
		t.Fatalf("DataSourcesByCreator: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].ID != second.ID || sources[1].ID != first.ID {
		t.Error("expected newest-first ordering")
	}
	if sources[1].RateLimit == nil || *sources[1].RateLimit != 100 {
		t.Errorf("rate limit lost: %+v", sources[1])
	}
	if sources[0].RateLimit != nil {
		t.Errorf("expected nil rate limit, got %v", *sources[0].RateLimit)
	}
}

func TestAccessLogsQueries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	amount := "0.10"
	path := "/api/creators/c1/data-sources"
	first, err := store.CreateAccessLog(ctx, AccessLog{
		AgentID:      "agent_1",
		DataSourceID: "ds_1",
		Path:         &path,
		Status:       "success",
		Amount:       &amount,
	})
	if err != nil {
		t.Fatalf("CreateAccessLog: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := store.CreateAccessLog(ctx, AccessLog{
		AgentID:      "agent_1",
		DataSourceID: "ds_2",
		Status:       "failed",
	})
	if err != nil {
		t.Fatalf("CreateAccessLog: %v", err)
	}

	byAgent, err := store.AccessLogsByAgent(ctx, "agent_1")
	if err != nil {
		t.Fatalf("AccessLogsByAgent: %v", err)
	}
	if len(byAgent) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(byAgent))
	}
	if byAgent[0].ID != second.ID || byAgent[1].ID != first.ID {
		t.Error("expected newest-first ordering")
	}
	if byAgent[1].Amount == nil || *byAgent[1].Amount != "0.10" {
		t.Errorf("amount lost: %+v", byAgent[1])
	}
	if byAgent[0].Amount != nil {
		t.Error("failed row should carry no amount")
	}

	bySources, err := store.AccessLogsByDataSources(ctx, []string{"ds_1"})
	if err != nil {
		t.Fatalf("AccessLogsByDataSources: %v", err)
	}
	if len(bySources) != 1 || bySources[0].ID != first.ID {
		t.Errorf("unexpected rows %+v", bySources)
	}

	empty, err := store.AccessLogsByDataSources(ctx, nil)
	if err != nil {
		t.Fatalf("AccessLogsByDataSources(nil): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %d rows", len(empty))
	}
}
