package claimship_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/store"
	"github.com/bft-labs/claimship/pkg/claimship"
)

func bundle(id string, claims ...int64) claimship.ClaimBundle {
	b := claimship.ClaimBundle{
		ID:        id,
		Batch:     domain.BatchKey{ProviderDhsCode: "P1", CompanyCode: "C1", MonthKey: "202403"},
		PayerCode: "PAY1",
	}
	for _, c := range claims {
		b.Claims = append(b.Claims, claimship.BundleClaim{ProIdClaim: c, Payload: []byte(`{"claim":true}`)})
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*claimship.Config)
		opts   []claimship.Option
	}{
		{name: "missing db path", mutate: func(c *claimship.Config) { c.DBPath = "" }, opts: []claimship.Option{claimship.WithBackend(&fakeBackend{})}},
		{name: "missing provider", mutate: func(c *claimship.Config) { c.ProviderDhsCode = "" }, opts: []claimship.Option{claimship.WithBackend(&fakeBackend{})}},
		{name: "missing service url", mutate: func(*claimship.Config) {}},
		{name: "short encryption key", mutate: func(c *claimship.Config) { c.EncryptionKey = []byte("short") }, opts: []claimship.Option{claimship.WithBackend(&fakeBackend{})}},
		{name: "base above max", mutate: func(c *claimship.Config) {
			c.RetryBaseDelay = time.Hour
			c.RetryMaxDelay = time.Minute
		}, opts: []claimship.Option{claimship.WithBackend(&fakeBackend{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := createTestConfig(t)
			tt.mutate(&cfg)
			_, err := claimship.New(cfg, tt.opts...)
			assert.ErrorIs(t, err, claimship.ErrInvalidConfig)
		})
	}
}

func TestClaimship_DeliversBundle(t *testing.T) {
	backend := &fakeBackend{}
	source := &fakeSource{}
	events := &eventTracker{}
	source.Push(bundle("b1", 1, 2, 3))

	cfg := createTestConfig(t)
	c, err := claimship.New(cfg,
		claimship.WithBackend(backend),
		claimship.WithSource(source),
		claimship.WithEventHandler(events),
	)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, claimship.StateRunning, c.Status())

	require.Eventually(t, func() bool {
		r, err := c.Snapshot(ctx)
		return err == nil && r.Claims[domain.EnqueueEnqueued.String()] == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, backend.SentClaims())

	require.NoError(t, c.Stop())
	assert.Equal(t, claimship.StateStopped, c.Status())

	assert.Equal(t, []claimship.State{
		claimship.StateStarting,
		claimship.StateRunning,
		claimship.StateStopping,
		claimship.StateStopped,
	}, events.States())
	require.Len(t, events.Recoveries(), 1)
	assert.Zero(t, events.Recoveries()[0].RecoveredClaims)
	assert.NotEmpty(t, events.Progress())

	raw, err := os.ReadFile(filepath.Join(cfg.DataDir(), "agent-state.json"))
	require.NoError(t, err)
	var st struct {
		State    string `json:"state"`
		Provider string `json:"provider_dhs_code"`
	}
	require.NoError(t, json.Unmarshal(raw, &st))
	assert.Equal(t, "Stopped", st.State)
	assert.Equal(t, "P1", st.Provider)
}

func TestClaimship_RecoversAbandonedLeases(t *testing.T) {
	cfg := createTestConfig(t)
	require.NoError(t, os.MkdirAll(cfg.DataDir(), 0o700))

	// Leave two Claims InFlight as a crashed process would.
	s, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	batchID, err := s.EnsureBatch(ctx, domain.BatchKey{ProviderDhsCode: "P1", CompanyCode: "C1", MonthKey: "202403"}, "PAY1", domain.BatchDraft, past)
	require.NoError(t, err)
	for _, id := range []int64{1, 2} {
		require.NoError(t, s.UpsertStagedClaim(ctx, domain.StageClaim{
			Key:         domain.ClaimKey{ProviderDhsCode: "P1", ProIdClaim: id},
			CompanyCode: "C1",
			MonthKey:    "202403",
			BatchID:     &batchID,
		}, past))
	}
	leased, err := s.Lease(ctx, domain.LeaseRequest{
		ProviderDhsCode: "P1",
		Holder:          domain.HolderSender,
		Now:             past,
		LeaseUntil:      past.Add(time.Minute),
		Take:            2,
		Eligible:        []domain.EnqueueStatus{domain.EnqueueNotSent},
	})
	require.NoError(t, err)
	require.Len(t, leased, 2)
	require.NoError(t, s.Close())

	events := &eventTracker{}
	c, err := claimship.New(cfg, claimship.WithBackend(&fakeBackend{}), claimship.WithEventHandler(events))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	recs := events.Recoveries()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].RecoveredClaims)

	r, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Extra["recovered_claims"])
}

func TestClaimship_LifecycleErrors(t *testing.T) {
	c := newTestInstance(t)

	assert.ErrorIs(t, c.Stop(), claimship.ErrNotRunning)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), claimship.ErrAlreadyRunning)
	assert.ErrorIs(t, c.Close(), claimship.ErrAlreadyRunning)
	require.NoError(t, c.Stop())
	assert.ErrorIs(t, c.Stop(), claimship.ErrNotRunning)
}

func TestClaimship_StatusServer(t *testing.T) {
	cfg := createTestConfig(t)
	cfg.StatusAddr = "127.0.0.1:0"
	c, err := claimship.New(cfg, claimship.WithBackend(&fakeBackend{}))
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.StatusAddr())
	require.NoError(t, c.Start(context.Background()))
	addr := c.StatusAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	var report claimship.StatusReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, "Running", report.State)
	assert.Equal(t, "P1", report.ProviderDhsCode)

	require.NoError(t, c.Stop())
	assert.Empty(t, c.StatusAddr())
	_, err = http.Get("http://" + addr + "/healthz")
	assert.Error(t, err)
}

func TestClaimship_StatusServerAddressInUse(t *testing.T) {
	first := createTestConfig(t)
	first.StatusAddr = "127.0.0.1:0"
	a, err := claimship.New(first, claimship.WithBackend(&fakeBackend{}))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	second := createTestConfig(t)
	second.StatusAddr = a.StatusAddr()
	b, err := claimship.New(second, claimship.WithBackend(&fakeBackend{}))
	require.NoError(t, err)
	defer b.Close()

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, claimship.StateCrashed, b.Status())
}

func TestClaimship_RequestResumeUnknownBatch(t *testing.T) {
	c := newTestInstance(t)
	err := c.RequestResume(context.Background(), 42)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state claimship.State
		want  string
	}{
		{claimship.StateStopped, "Stopped"},
		{claimship.StateStarting, "Starting"},
		{claimship.StateRunning, "Running"},
		{claimship.StateStopping, "Stopping"},
		{claimship.StateCrashed, "Crashed"},
		{claimship.State(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
