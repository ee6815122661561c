package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bretuobay/snkv"
	bolt "go.etcd.io/bbolt"
)

// run executes one snkv invocation against the database at path and
// returns what it printed.
func run(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--db", path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, path string, args ...string) string {
	t.Helper()
	out, err := run(t, path, args...)
	if err != nil {
		t.Fatalf("snkv %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestPutGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	mustRun(t, path, "put", "greeting", "hello")
	if got := mustRun(t, path, "get", "greeting"); got != "hello\n" {
		t.Fatalf("get = %q", got)
	}
	mustRun(t, path, "delete", "greeting")
	_, err := run(t, path, "get", "greeting")
	if !snkv.IsMissing(err) {
		t.Fatalf("expected a missing key, got %v", err)
	}
}

func TestPutFromStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	cmd := NewRootCmd()
	cmd.SetIn(strings.NewReader("from stdin"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", path, "put", "k"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := mustRun(t, path, "get", "k"); got != "from stdin\n" {
		t.Fatalf("get = %q", got)
	}
}

func TestScanAndTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	for _, k := range []string{"app", "apple", "banana"} {
		mustRun(t, path, "put", k, "v-"+k)
	}
	mustRun(t, path, "put", "--ttl", "1h", "session", "s")

	if got := mustRun(t, path, "scan", "--prefix", "app"); got != "app\tv-app\napple\tv-apple\n" {
		t.Fatalf("scan = %q", got)
	}
	if got := mustRun(t, path, "scan", "--limit", "1"); got != "app\tv-app\n" {
		t.Fatalf("scan with limit = %q", got)
	}
	if got := mustRun(t, path, "ttl", "app"); got != "no expiry\n" {
		t.Fatalf("ttl = %q", got)
	}
	if got := mustRun(t, path, "ttl", "session"); !strings.HasPrefix(got, "59m") && got != "1h0m0s\n" {
		t.Fatalf("ttl = %q", got)
	}
	if got := mustRun(t, path, "purge", "--all"); got != "purged 0 keys\n" {
		t.Fatalf("purge = %q", got)
	}
}

func TestColumnFamilies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	mustRun(t, path, "cf", "create", "users")
	mustRun(t, path, "cf", "create", "orders")
	if got := mustRun(t, path, "cf", "list"); got != "orders\nusers\n" {
		t.Fatalf("cf list = %q", got)
	}
	mustRun(t, path, "--cf", "users", "put", "alice", "1")
	if _, err := run(t, path, "get", "alice"); !snkv.IsMissing(err) {
		t.Fatalf("key leaked into the default family: %v", err)
	}
	mustRun(t, path, "cf", "drop", "users")
	if _, err := run(t, path, "--cf", "users", "get", "alice"); snkv.KindOf(err) != snkv.KindNotFound {
		t.Fatalf("expected a missing family, got %v", err)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	for i := 0; i < 20; i++ {
		mustRun(t, path, "put", strings.Repeat("k", i+1), strings.Repeat("v", 500))
	}
	if got := mustRun(t, path, "checkpoint", "--mode", "truncate"); got != "truncate checkpoint: 0 frames in log, 0 copied\n" {
		t.Fatalf("checkpoint = %q", got)
	}
	if got := mustRun(t, path, "vacuum"); !strings.HasPrefix(got, "removed ") {
		t.Fatalf("vacuum = %q", got)
	}
	if got := mustRun(t, path, "integrity"); got != "ok\n" {
		t.Fatalf("integrity = %q", got)
	}
	stats := mustRun(t, path, "stats")
	for _, want := range []string{"Page size:       4.0 KiB", "Keys:            20", "Connections:     1"} {
		if !strings.Contains(stats, want) {
			t.Fatalf("stats missing %q:\n%s", want, stats)
		}
	}
	if got := mustRun(t, path, "stats", "--prometheus"); !strings.Contains(got, "snkv_errors_total") {
		t.Fatalf("prometheus output = %q", got)
	}
	if _, err := run(t, path, "checkpoint", "--mode", "eager"); err == nil {
		t.Fatalf("expected an error for an unknown mode")
	}
}

func TestBackupRestore(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	snap := filepath.Join(dir, "snap.xz")
	backups := filepath.Join(dir, "backups")

	mustRun(t, src, "put", "a", "1")
	mustRun(t, src, "cf", "create", "users")
	mustRun(t, src, "--cf", "users", "put", "bob", "2")

	if got := mustRun(t, src, "backup", "--out", snap); !strings.HasPrefix(got, "wrote "+snap) {
		t.Fatalf("backup = %q", got)
	}
	if got := mustRun(t, dst, "restore", "--in", snap); got != "restored 2 entries\n" {
		t.Fatalf("restore = %q", got)
	}
	if got := mustRun(t, dst, "--cf", "users", "get", "bob"); got != "2\n" {
		t.Fatalf("restored value = %q", got)
	}

	if err := os.MkdirAll(backups, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mustRun(t, src, "backup", "--dir", backups)
	other := filepath.Join(dir, "other.db")
	if got := mustRun(t, other, "restore", "--dir", backups); got != "restored 2 entries\n" {
		t.Fatalf("restore from dir = %q", got)
	}

	if _, err := run(t, src, "backup"); err == nil {
		t.Fatalf("expected an error without --out or --dir")
	}
	if _, err := run(t, src, "backup", "--out", snap, "--dir", backups); err == nil {
		t.Fatalf("expected an error with both --out and --dir")
	}
}

func TestImportBolt(t *testing.T) {
	dir := t.TempDir()
	boltPath := filepath.Join(dir, "source.bolt")
	bdb, err := bolt.Open(boltPath, 0600, nil)
	if err != nil {
		t.Fatalf("bolt open: %v", err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		users, err := tx.CreateBucket([]byte("users"))
		if err != nil {
			return err
		}
		for i := 0; i < 1500; i++ {
			if err := users.Put([]byte{byte(i >> 8), byte(i)}, []byte("u")); err != nil {
				return err
			}
		}
		if _, err := users.CreateBucket([]byte("nested")); err != nil {
			return err
		}
		cfg, err := tx.CreateBucket([]byte("config"))
		if err != nil {
			return err
		}
		return cfg.Put([]byte("mode"), []byte("fast"))
	})
	if err != nil {
		t.Fatalf("bolt update: %v", err)
	}
	if err := bdb.Close(); err != nil {
		t.Fatalf("bolt close: %v", err)
	}

	path := filepath.Join(dir, "cli.db")
	mustRun(t, path, "cf", "create", "config")
	got := mustRun(t, path, "import-bolt", boltPath)
	if got != "config\t1 keys\nusers\t1,500 keys\n" {
		t.Fatalf("import-bolt = %q", got)
	}
	if got := mustRun(t, path, "--cf", "config", "get", "mode"); got != "fast\n" {
		t.Fatalf("imported value = %q", got)
	}

	db, err := snkv.Open(snkv.DefaultOptions(path))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	users, err := db.OpenColumnFamily("users")
	if err != nil {
		t.Fatalf("open users: %v", err)
	}
	if n, err := users.Count(); err != nil || n != 1500 {
		t.Fatalf("users count = %d, %v", n, err)
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.db")
	t.Setenv("SNKV_DB", path)
	t.Setenv("SNKV_JOURNAL", "delete")
	t.Setenv("SNKV_BUSY_TIMEOUT", "2s")

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	for _, want := range []string{path, "Journal         : delete", "Busy timeout    : 2s", "(default)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("config missing %q:\n%s", want, out.String())
		}
	}
}

func TestBadFlagValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	if _, err := run(t, path, "--journal", "memory", "get", "k"); err == nil {
		t.Fatalf("expected an error for an unknown journal mode")
	}
	if _, err := run(t, path, "--log-level", "chatty", "get", "k"); err == nil {
		t.Fatalf("expected an error for an unknown log level")
	}
}

func TestVersion(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if out.String() != "snkv version "+Version+"\n" {
		t.Fatalf("version = %q", out.String())
	}
}

func TestWrapString(t *testing.T) {
	got := WrapString(strings.Repeat("word ", 20))
	for _, line := range strings.Split(got, "\n") {
		if len(line) > Wrap {
			t.Fatalf("line longer than %d: %q", Wrap, line)
		}
	}
}
