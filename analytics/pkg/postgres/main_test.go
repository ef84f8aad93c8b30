package postgres_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	apitesting "github.com/malbeclabs/eventdash/api/testing"
)

var testPgDB *apitesting.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	log := slog.Default()

	var err error
	testPgDB, err = apitesting.NewDB(ctx, log, nil)
	if err != nil {
		slog.Error("failed to start PostgreSQL container", "error", err)
		os.Exit(1)
	}

	code := m.Run()
	testPgDB.Close()
	os.Exit(code)
}
