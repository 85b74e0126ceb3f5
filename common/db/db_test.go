package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/mutwizard/common/config"
)

func TestNewPoolConfig(t *testing.T) {
	t.Setenv("POSTGRES_MAX_CONNS", "6")
	t.Setenv("POSTGRES_MIN_CONNS", "1")
	t.Setenv("POSTGRES_CONNECT_TIMEOUT", "2s")
	t.Setenv("POSTGRES_STATEMENT_TIMEOUT", "1500ms")

	cfg, err := config.Load("wizard")
	require.NoError(t, err)

	pc, err := newPoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(6), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, 2*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, "mutwizard-wizard", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "1500", pc.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "mutwizard", pc.ConnConfig.Database)
}

func TestNewPoolConfig_NoStatementTimeout(t *testing.T) {
	t.Setenv("POSTGRES_STATEMENT_TIMEOUT", "0s")

	cfg, err := config.Load("wizard")
	require.NoError(t, err)

	pc, err := newPoolConfig(cfg)
	require.NoError(t, err)
	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "statement_timeout")
}
