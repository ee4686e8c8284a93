package api

import (
	"context"
	"testing"

	"ledgerwatch.mini/lwm/internal/admin"
	"ledgerwatch.mini/lwm/internal/logger"
	"ledgerwatch.mini/lwm/internal/nodeapi"
	"ledgerwatch.mini/lwm/internal/session"
)

type fakeDashboard struct {
	view session.View

	refreshErr  error
	chainErr    error
	donateErr   error
	donateResp  nodeapi.MessageResponse
	donations   []session.Donation
	mineResp    nodeapi.MineResponse
	mineErr     error
	legs        []admin.Leg
	adminErr    error
	refreshHits int
}

func (f *fakeDashboard) View() session.View { return f.view }

func (f *fakeDashboard) Refresh(ctx context.Context) error {
	f.refreshHits++
	return f.refreshErr
}

func (f *fakeDashboard) RefreshChain(ctx context.Context) error { return f.chainErr }

func (f *fakeDashboard) Donate(ctx context.Context, d session.Donation) (nodeapi.MessageResponse, error) {
	f.donations = append(f.donations, d)
	return f.donateResp, f.donateErr
}

func (f *fakeDashboard) SyncPeers(ctx context.Context) ([]admin.Leg, error) {
	return f.legs, f.adminErr
}

func (f *fakeDashboard) Mine(ctx context.Context) (nodeapi.MineResponse, error) {
	return f.mineResp, f.mineErr
}

func (f *fakeDashboard) Consensus(ctx context.Context) ([]admin.Leg, error) {
	return f.legs, f.adminErr
}

// setupTest creates a Service backed by a fake dashboard and a small feed.
func setupTest(t *testing.T) (*Service, *fakeDashboard, *logger.Logger) {
	t.Helper()
	dash := &fakeDashboard{}
	feed := logger.New(20)
	return NewService(dash, feed), dash, feed
}
