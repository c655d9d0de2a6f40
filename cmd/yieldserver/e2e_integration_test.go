//go:build integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/agroyield/cmd/yieldserver/router"
	"github.com/HatiCode/agroyield/internal/fixture"
	"github.com/HatiCode/agroyield/pkg/ensemble"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/storage"
	"github.com/HatiCode/agroyield/pkg/training"
)

// TestTrainServeOverRedis trains into a shared redis store and checks that a
// server replica started before training picks the artifacts up on reload.
func TestTrainServeOverRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	addr := strings.TrimPrefix(endpoint, "redis://")

	serverStore, err := storage.NewRedisStore(addr, "", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer serverStore.Close()

	registry := ensemble.NewRegistry(serverStore, discard())
	rl := &reloader{registry: registry, logger: discard()}
	if err := rl.load(ctx); err == nil {
		t.Fatal("load() on empty redis succeeded")
	}

	srv := httptest.NewServer(router.SetupRoutes(router.Deps{Predictor: registry, Logger: discard()}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("healthz before training = %d, want 503", resp.StatusCode)
	}

	// train with a separate connection, as the trainer binary would
	trainerStore, err := storage.NewRedisStore(addr, "", 0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer trainerStore.Close()

	records := fixture.Records(60, 3, 5)
	cfg := training.DefaultConfig()
	cfg.Families = []models.Family{models.GBDTDepthwise, models.RandomForest}
	cfg.Trials, cfg.Folds = 2, 2
	res, err := training.New(cfg, nil, discard(), nil).Run(ctx, records)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}
	sum, err := ensemble.Evaluate(res)
	if err != nil {
		t.Fatal(err)
	}
	if err := ensemble.NewRegistry(trainerStore, discard()).Save(ctx, res, sum); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := rl.load(ctx); err != nil {
		t.Fatalf("reload after training: %v", err)
	}

	body, err := json.Marshal(router.PredictRequest{Records: records[:6]})
	if err != nil {
		t.Fatal(err)
	}
	resp, err = http.Post(srv.URL+"/predict", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("predict status = %d", resp.StatusCode)
	}
	var out router.PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Predictions) != 6 || out.Model != "ensemble" {
		t.Errorf("response = %+v", out)
	}

	direct, err := registry.Predict(ctx, []features.Record{records[0]}, false)
	if err != nil || len(direct) != 1 {
		t.Errorf("single-model predict = %v, %v", direct, err)
	}
}
