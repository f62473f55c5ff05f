package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"axiomvault/cryptocore"
	"axiomvault/storageprovider"
)

func newTestSession(t *testing.T) (*VaultSession, storageprovider.StorageProvider) {
	t.Helper()
	provider := storageprovider.NewMemoryProvider()
	cfg, master, err := NewVaultConfig("vault-1", "correct horse battery staple", "memory", nil, cryptocore.ModerateParams())
	require.NoError(t, err)
	master.Zero()

	ctx := context.Background()
	session, err := Unlock(ctx, cfg, "correct horse battery staple", provider)
	require.NoError(t, err)
	return session, provider
}

func TestUnlockWrongPassword(t *testing.T) {
	provider := storageprovider.NewMemoryProvider()
	cfg, master, err := NewVaultConfig("vault-2", "right password", "memory", nil, cryptocore.ModerateParams())
	require.NoError(t, err)
	master.Zero()

	_, err = Unlock(context.Background(), cfg, "wrong password", provider)
	require.Error(t, err)
}

func TestCreateReadUpdateDeleteFile(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	path := ParseVaultPath("/docs/report.txt")
	_, err := session.CreateFile(ctx, path, []byte("hello vault"))
	require.NoError(t, err)

	data, err := session.ReadFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "hello vault", string(data))

	_, err = session.UpdateFile(ctx, path, []byte("updated content"))
	require.NoError(t, err)
	data, err = session.ReadFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "updated content", string(data))

	require.NoError(t, session.DeleteFile(ctx, path))
	_, err = session.ReadFile(ctx, path)
	require.Error(t, err)
}

func TestCreateFileRequiresDirectory(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/missing/report.txt"), []byte("x"))
	require.Error(t, err)
}

func TestCreateDirectoryAndListing(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateDirectory(ctx, ParseVaultPath("/docs"))
	require.NoError(t, err)
	_, err = session.CreateFile(ctx, ParseVaultPath("/docs/a.txt"), []byte("a"))
	require.NoError(t, err)
	_, err = session.CreateFile(ctx, ParseVaultPath("/docs/b.txt"), []byte("bb"))
	require.NoError(t, err)

	children, err := session.ListDirectory(ctx, ParseVaultPath("/docs"))
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestDeleteNonEmptyDirectoryFails(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateDirectory(ctx, ParseVaultPath("/docs"))
	require.NoError(t, err)
	_, err = session.CreateFile(ctx, ParseVaultPath("/docs/a.txt"), []byte("a"))
	require.NoError(t, err)

	err = session.DeleteDirectory(ctx, ParseVaultPath("/docs"))
	require.Error(t, err)

	require.NoError(t, session.DeleteFile(ctx, ParseVaultPath("/docs/a.txt")))
	require.NoError(t, session.DeleteDirectory(ctx, ParseVaultPath("/docs")))
}

func TestDuplicateCreateFails(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("x"))
	require.NoError(t, err)
	_, err = session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("y"))
	require.Error(t, err)
}

func TestLockPreventsOperations(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("x"))
	require.NoError(t, err)

	session.Lock()
	require.Equal(t, StateLocked, session.State())

	_, err = session.CreateFile(ctx, ParseVaultPath("/b.txt"), []byte("y"))
	require.Error(t, err)
}

func TestChangePasswordThenUnlockWithNewPassword(t *testing.T) {
	session, provider := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("secret"))
	require.NoError(t, err)

	require.NoError(t, session.ChangePassword(ctx, "new password entirely"))

	cfgBlob, err := provider.Download(ctx, ConfigStoragePath)
	require.NoError(t, err)
	cfg, err := UnmarshalConfig(cfgBlob)
	require.NoError(t, err)

	reopened, err := Unlock(ctx, cfg, "new password entirely", provider)
	require.NoError(t, err)
	data, err := reopened.ReadFile(ctx, ParseVaultPath("/a.txt"))
	require.NoError(t, err)
	require.Equal(t, "secret", string(data))

	_, err = Unlock(ctx, cfg, "correct horse battery staple", provider)
	require.Error(t, err)
}

func TestStreamingDispatchForLargeFiles(t *testing.T) {
	session, _ := newTestSession(t)
	ctx := context.Background()

	original := StreamThreshold
	StreamThreshold = 10 // force the streaming path for tiny content
	defer func() { StreamThreshold = original }()

	content := []byte("this content is longer than ten bytes for sure")
	_, err := session.CreateFile(ctx, ParseVaultPath("/big.bin"), content)
	require.NoError(t, err)

	data, err := session.ReadFile(ctx, ParseVaultPath("/big.bin"))
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestSweepOrphansReclaimsFailedDelete(t *testing.T) {
	session, provider := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("x"))
	require.NoError(t, err)

	meta, err := session.Metadata(ctx, ParseVaultPath("/a.txt"))
	require.NoError(t, err)

	// Simulate the provider-side delete having already failed once by
	// removing the blob out from under the session directly, then
	// recording it as an orphan the way DeleteFile would.
	require.NoError(t, provider.Delete(ctx, DataDirPrefix+meta.EncryptedName))
	session.recordOrphan(ctx, meta.EncryptedName)

	require.NoError(t, session.SweepOrphans(ctx))
}

// TestChangePasswordReencryptsOrphanList guards against m/orphans.json being
// left encrypted under the old master key after ChangePassword: if it were,
// the next Unlock's loadOrphans would fail to decrypt it, swallow the error,
// and silently reset the list to empty, leaking the recorded blob forever.
func TestChangePasswordReencryptsOrphanList(t *testing.T) {
	session, provider := newTestSession(t)
	ctx := context.Background()

	_, err := session.CreateFile(ctx, ParseVaultPath("/a.txt"), []byte("x"))
	require.NoError(t, err)
	meta, err := session.Metadata(ctx, ParseVaultPath("/a.txt"))
	require.NoError(t, err)

	require.NoError(t, provider.Delete(ctx, DataDirPrefix+meta.EncryptedName))
	session.recordOrphan(ctx, meta.EncryptedName)

	require.NoError(t, session.ChangePassword(ctx, "new password entirely"))

	cfgBlob, err := provider.Download(ctx, ConfigStoragePath)
	require.NoError(t, err)
	cfg, err := UnmarshalConfig(cfgBlob)
	require.NoError(t, err)

	reopened, err := Unlock(ctx, cfg, "new password entirely", provider)
	require.NoError(t, err)
	require.Equal(t, []string{meta.EncryptedName}, reopened.orphans)

	require.NoError(t, reopened.SweepOrphans(ctx))
}
