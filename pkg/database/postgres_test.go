package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/training-enrollment-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "app",
		Password: "p@ss word",
		Name:     "training",
	})
	assert.Contains(t, dsn, "host=db ")
	assert.Contains(t, dsn, "password='p@ss word'")
	assert.Contains(t, dsn, "sslmode=disable")
	assert.Contains(t, dsn, "application_name=training-enrollment-api")
	assert.Contains(t, dsn, "default_transaction_isolation='read committed'")
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, "plain", quote("plain"))
	assert.Equal(t, "''", quote(""))
	assert.Equal(t, `'it\'s'`, quote("it's"))
}
