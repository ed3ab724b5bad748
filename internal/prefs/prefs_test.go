package prefs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preferences.toml")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	return s, path
}

func TestDefaults(t *testing.T) {
	s, _ := openTestStore(t)
	p := s.Get()
	require.Equal(t, Defaults(), p)
	require.True(t, p.CollectAppUsage)
	require.True(t, p.CollectBattery)
	require.False(t, p.CollectLocation)
	require.False(t, p.AutoExportEnabled)
	require.Equal(t, FormatJSON, p.AutoExportFormat)
	require.Equal(t, RangeLast24Hours, p.AutoExportRange)
	require.True(t, s.HasAnyCollectionEnabled())
}

func TestSettersPersist(t *testing.T) {
	s, path := openTestStore(t)

	require.NoError(t, s.SetCollectAppUsage(false))
	require.NoError(t, s.SetCollectLocation(true))
	require.NoError(t, s.SetAutoExportFormat(FormatCSV))
	require.NoError(t, s.SetAutoExportRange(RangeAll))
	require.NoError(t, s.Set(KeyAutoExportAnonymize, "true"))
	require.Error(t, s.SetAutoExportFormat("XML"))
	require.Error(t, s.Set("nope", "true"))
	require.Error(t, s.Set(KeyCollectBattery, "maybe"))

	p := s.Get()
	require.False(t, p.CollectAppUsage)
	require.True(t, p.CollectLocation)
	require.Equal(t, FormatCSV, p.AutoExportFormat)
	require.Equal(t, RangeAll, p.AutoExportRange)
	require.True(t, p.AutoExportAnonymize)

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	require.Equal(t, p, reopened.Get())
}

func TestHasAnyCollectionEnabled(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.SetCollectAppUsage(false))
	require.True(t, s.HasAnyCollectionEnabled())
	require.NoError(t, s.SetCollectBattery(false))
	require.False(t, s.HasAnyCollectionEnabled())
	require.NoError(t, s.SetCollectLocation(true))
	require.False(t, s.HasAnyCollectionEnabled(), "location alone does not count")
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
collect_app_usage = "yes"
collect_battery = false
auto_export_format = "XML"
auto_export_range = "ALL"
`), 0o600))

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	p := s.Get()
	require.True(t, p.CollectAppUsage)
	require.False(t, p.CollectBattery)
	require.Equal(t, FormatJSON, p.AutoExportFormat)
	require.Equal(t, RangeAll, p.AutoExportRange)
}

func TestCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.toml")
	require.NoError(t, os.WriteFile(path, []byte("collect_battery = [broken"), 0o600))
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.Equal(t, Defaults(), s.Get())
}

func TestSubscribeDeliversLatest(t *testing.T) {
	s, _ := openTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.Equal(t, Defaults(), <-ch)

	require.NoError(t, s.SetCollectBattery(false))
	require.NoError(t, s.SetCollectLocation(true))
	require.NoError(t, s.SetCollectLocation(true))

	select {
	case p := <-ch:
		require.False(t, p.CollectBattery)
		require.True(t, p.CollectLocation)
	default:
		t.Fatal("no preferences delivered")
	}
	select {
	case p := <-ch:
		t.Fatalf("unexpected extra delivery %+v", p)
	default:
	}

	cancel()
	require.NoError(t, s.SetCollectBattery(true))
	select {
	case <-ch:
		t.Fatal("delivery after unsubscribe")
	default:
	}
}

func TestWatchReloadsExternalEdits(t *testing.T) {
	s, path := openTestStore(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	defer func() {
		stop()
		require.NoError(t, <-done)
	}()

	// The watcher may not be registered yet; rewrite until it is seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("collect_app_usage = false\n"), 0o600)
		select {
		case p := <-ch:
			return !p.CollectAppUsage
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	require.False(t, s.Get().CollectAppUsage)
}
