package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	f, err := OpenFile(t.TempDir(), 1024, 256)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return map[string]Store{
		"memory": NewMemory(1024, 256),
		"file":   f,
	}
}

func TestStore_Scalar(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.WriteScalar(Config, 0, 1234))
			require.NoError(t, s.WriteScalar(Config, 4, -7))
			require.NoError(t, s.WriteScalar(Data, 252, 1<<30))

			v, err := s.ReadScalar(Config, 0)
			require.NoError(t, err)
			assert.Equal(t, int32(1234), v)

			v, err = s.ReadScalar(Config, 4)
			require.NoError(t, err)
			assert.Equal(t, int32(-7), v)

			v, err = s.ReadScalar(Data, 252)
			require.NoError(t, err)
			assert.Equal(t, int32(1<<30), v)
		})
	}
}

func TestStore_String(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.WriteString(Data, 10, 20, "2026-10-19 10:00:00"))
			got, err := s.ReadString(Data, 10, 20)
			require.NoError(t, err)
			assert.Equal(t, "2026-10-19 10:00:00", got)

			require.NoError(t, s.WriteString(Data, 10, 20, "#"))
			got, err = s.ReadString(Data, 10, 20)
			require.NoError(t, err)
			assert.Equal(t, "#", got, "shorter value clears the old tail")

			err = s.WriteString(Data, 10, 4, "too long")
			assert.True(t, errors.Is(err, ErrTooLong))
		})
	}
}

func TestStore_OutOfRange(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadScalar(Data, 254)
			assert.True(t, errors.Is(err, ErrOutOfRange))

			err = s.WriteScalar(Config, -1, 0)
			assert.True(t, errors.Is(err, ErrOutOfRange))

			_, err = s.ReadString(Data, 250, 20)
			assert.True(t, errors.Is(err, ErrOutOfRange))
		})
	}
}

func TestFile_Persists(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenFile(dir, 64, 64)
	require.NoError(t, err)
	require.NoError(t, f.WriteScalar(Config, 8, 42))
	require.NoError(t, f.WriteString(Data, 0, 8, "abc"))
	require.NoError(t, f.Close())

	f, err = OpenFile(dir, 64, 64)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.ReadScalar(Config, 8)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	s, err := f.ReadString(Data, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "abc", s)
}

func TestSeed(t *testing.T) {
	s := NewMemory(LayoutSize, 64)
	require.NoError(t, s.WriteScalar(Config, AddrWriteCursor, 56))

	defaults := Settings{
		Mode:           2,
		UpdateInterval: 60,
		BatchThreshold: 1,
		MAC:            "00:06:66:aa:bb:cc",
		APIKey:         "key",
		Networks:       []Network{{SSID: "home", Phrase: "secret"}},
	}

	seeded, err := Seed(s, defaults)
	require.NoError(t, err)
	assert.True(t, seeded)

	got, err := ReadSettings(s)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)

	w, err := s.ReadScalar(Config, AddrWriteCursor)
	require.NoError(t, err)
	assert.Equal(t, int32(0), w, "seeding resets the buffer cursors")

	// A seeded store keeps its values.
	require.NoError(t, s.WriteScalar(Config, AddrMode, 3))
	seeded, err = Seed(s, defaults)
	require.NoError(t, err)
	assert.False(t, seeded)

	mode, err := s.ReadScalar(Config, AddrMode)
	require.NoError(t, err)
	assert.Equal(t, int32(3), mode)
}

func TestWriteNetworks(t *testing.T) {
	s := NewMemory(LayoutSize, 0)

	nets := []Network{{SSID: "a", Phrase: "1"}, {SSID: "b", Phrase: "2"}}
	require.NoError(t, WriteNetworks(s, nets))

	got, err := ReadNetworks(s)
	require.NoError(t, err)
	assert.Equal(t, nets, got)

	err = WriteNetworks(s, make([]Network, MaxNetworks+1))
	assert.Error(t, err)

	require.NoError(t, s.WriteScalar(Config, AddrNetworks, -3))
	got, err = ReadNetworks(s)
	require.NoError(t, err)
	assert.Empty(t, got, "corrupt count reads as no networks")
}
