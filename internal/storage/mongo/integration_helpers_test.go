package mongo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// openStoreForIntegrationTest подключается к OMS_MONGO_TEST_URI и выделяет тесту
// отдельную базу, которая удаляется после завершения.
func openStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("OMS_MONGO_TEST_URI"))
	if uri == "" {
		t.Skip("OMS_MONGO_TEST_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database := fmt.Sprintf("autoparts_test_%d", time.Now().UnixNano())
	store, err := Open(ctx, Config{URI: uri, Database: database})
	if err != nil {
		t.Skipf("mongo is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Database().Drop(cleanupCtx)
		_ = store.Close(cleanupCtx)
	})
	return store
}
