package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestCreateOutboxWorker_NilWithoutProducer(t *testing.T) {
	logger := log.WithField("test", "workers")
	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	worker := createOutboxWorker(deps, nil, DefaultConfig(), logger)
	if worker != nil {
		t.Error("expected nil worker without kafka producer")
	}
}

func TestCreateCleanupWorker(t *testing.T) {
	logger := log.WithField("test", "workers")
	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}

	worker := createCleanupWorker(deps, DefaultConfig(), logger)
	if worker == nil {
		t.Fatal("cleanup worker should not be nil")
	}
}
