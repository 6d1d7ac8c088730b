package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndSync(t *testing.T) {
	m, err := Open(t.TempDir())
	require.NoError(t, err)

	lsn1, err := m.AppendRecord([]byte("commit txn=1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), lsn1)

	require.Equal(t, uint64(0), m.GetFlushedLSN())
	require.NoError(t, m.Sync())
	require.Equal(t, lsn1, m.GetFlushedLSN())

	lsn2, err := m.AppendRecord([]byte("commit txn=2"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), lsn2)
}
