package clickhouse_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	apitesting "github.com/malbeclabs/eventdash/api/testing"
)

var testChDB *apitesting.ClickHouseDB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := slog.Default()

	var err error
	testChDB, err = apitesting.NewClickHouseDB(ctx, log, nil)
	if err != nil {
		slog.Error("failed to start ClickHouse container", "error", err)
		os.Exit(1)
	}

	code := m.Run()
	testChDB.Close()
	os.Exit(code)
}
