package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/store"
)

func TestOpenStoreDrivers(t *testing.T) {
	for _, driver := range []string{config.StoreDriverSQLite, config.StoreDriverBolt} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.Default()
			cfg.StoreDriver = driver
			cfg.StorePath = filepath.Join(t.TempDir(), "relay.db")

			st, err := OpenStore(&cfg)
			require.NoError(t, err)
			defer st.Close()

			id, _, err := st.Append(context.Background(), &store.Message{ConversationKey: "k", SenderID: "a", RecipientID: "b", Body: "hi"})
			require.NoError(t, err)
			require.Positive(t, id)
		})
	}

	cfg := config.Default()
	cfg.StoreDriver = "memory"
	_, err := OpenStore(&cfg)
	require.Error(t, err)
}

func TestJWTConfigRequiresSecret(t *testing.T) {
	cfg := config.Default()
	require.Nil(t, JWTConfig(&cfg))

	cfg.JWTSecret = "s3cret"
	jwtCfg := JWTConfig(&cfg)
	require.NotNil(t, jwtCfg)
	require.Equal(t, []byte("s3cret"), jwtCfg.Secret)
}

func TestAppServesHealthAndShutsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.StorePath = filepath.Join(t.TempDir(), "relay.db")
	cfg.ShutdownTimeout = time.Second
	logger := zerolog.Nop()

	a, err := New(&cfg, &logger)
	require.NoError(t, err)

	ts := httptest.NewServer(a.Handler())
	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}
