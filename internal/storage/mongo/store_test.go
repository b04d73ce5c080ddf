package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{URI: "mongodb://localhost:27017"}.Validate())
	assert.NoError(t, Config{URI: "mongodb://localhost:27017", Database: "autoparts"}.Validate())
}

func TestStoreNilGuards(t *testing.T) {
	var store *Store
	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close(context.Background()))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}
