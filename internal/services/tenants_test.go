package services

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpool/internal/integrity"
)

type countingCloser struct {
	closed *int
}

func (c countingCloser) Close() error {
	*c.closed++
	return nil
}

func TestTenants(t *testing.T) {
	verifier, err := integrity.NewVerifier(testSecret)
	require.NoError(t, err)

	var opened []string
	closed := 0
	open := func(path string) (*TicketService, io.Closer, error) {
		if path == "broken.db" {
			return nil, nil, errors.New("cannot open")
		}
		opened = append(opened, path)
		return NewTicketService(nil, verifier, DefaultOptions()), countingCloser{closed: &closed}, nil
	}

	resolve := func(t *testing.T, tenants *Tenants, host string) (*TicketService, error) {
		t.Helper()
		service, release, err := tenants.Acquire(host)
		if err != nil {
			return nil, err
		}
		release()
		return service, nil
	}

	t.Run("single tenant serves every host", func(t *testing.T) {
		tenants := NewTenants("tickets.db", nil, open)

		a, err := resolve(t, tenants, "stage.example.com")
		require.NoError(t, err)
		b, err := resolve(t, tenants, "anything:8080")
		require.NoError(t, err)
		assert.Same(t, a, b)
	})

	t.Run("hosts select their own store", func(t *testing.T) {
		opened = nil
		tenants := NewTenants("", map[string]string{
			"stage.example.com": "stage.db",
			"Prod.example.com":  "prod.db",
			"broken.example":    "broken.db",
		}, open)

		stage, err := resolve(t, tenants, "stage.example.com:8443")
		require.NoError(t, err)
		prod, err := resolve(t, tenants, "prod.example.com")
		require.NoError(t, err)
		assert.NotSame(t, stage, prod)

		again, err := resolve(t, tenants, "STAGE.example.com")
		require.NoError(t, err)
		assert.Same(t, stage, again)
		assert.Equal(t, []string{"stage.db", "prod.db"}, opened)

		_, err = resolve(t, tenants, "evil.example.com")
		assert.ErrorIs(t, err, ErrBadRequest)
		assert.ErrorIs(t, err, ErrUnknownHost)

		_, err = resolve(t, tenants, "broken.example")
		assert.ErrorIs(t, err, ErrInternal)
	})

	t.Run("idle tenants are closed and reopened", func(t *testing.T) {
		opened = nil
		closed = 0
		tenants := NewTenants("tickets.db", nil, open)

		first, err := resolve(t, tenants, "localhost")
		require.NoError(t, err)

		assert.Equal(t, 0, tenants.CloseIdle(time.Hour))
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, 1, tenants.CloseIdle(time.Millisecond))
		assert.Equal(t, 1, closed)

		second, err := resolve(t, tenants, "localhost")
		require.NoError(t, err)
		assert.NotSame(t, first, second)
		assert.Len(t, opened, 2)

		visited := 0
		tenants.Each(func(path string, _ *TicketService) {
			assert.Equal(t, "tickets.db", path)
			assert.Equal(t, 0, tenants.CloseIdle(0), "a tenant in use by Each stays open")
			visited++
		})
		assert.Equal(t, 1, visited)

		require.NoError(t, tenants.CloseAll())
		assert.Equal(t, 2, closed)
	})

	t.Run("tenant with a request in flight stays open", func(t *testing.T) {
		opened = nil
		closed = 0
		tenants := NewTenants("tickets.db", nil, open)

		_, release, err := tenants.Acquire("localhost")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, 0, tenants.CloseIdle(time.Millisecond))
		assert.Equal(t, 0, closed)

		release()
		release()
		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, 1, tenants.CloseIdle(time.Millisecond))
		assert.Equal(t, 1, closed)
	})
}
