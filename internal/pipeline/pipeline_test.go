package pipeline

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	testhelpers "github.com/dl-alexandre/dbxbackup/internal/testing"
	"github.com/dl-alexandre/dbxbackup/internal/utils"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func testOptions(rec *testhelpers.ProgressRecorder) Options {
	return Options{
		Progress: rec.Record,
		Clock:    testhelpers.StepClock(time.Unix(0, 0), time.Second),
	}
}

func writeTree(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("bravo"), 0644))
	return src
}

func TestTarArchiver_Archive(t *testing.T) {
	src := writeTree(t)
	dest := filepath.Join(t.TempDir(), "20240101000000.tar")

	got, err := NewTarArchiver(Options{}).Archive(testhelpers.TestContext(), src, dest)
	require.NoError(t, err)
	require.Equal(t, dest, got)

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()

	contents := map[string]string{}
	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(data)
		}
	}

	require.Equal(t, []string{"src/", "src/a.txt", "src/sub/", "src/sub/b.txt"}, names)
	require.Equal(t, "alpha", contents["src/a.txt"])
	require.Equal(t, "bravo", contents["src/sub/b.txt"])
}

func TestTarArchiver_MissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.tar")

	_, err := NewTarArchiver(Options{}).Archive(testhelpers.TestContext(), filepath.Join(t.TempDir(), "nope"), dest)
	require.Equal(t, utils.ErrCodeArchiveFailed, utils.ErrorCode(err))
	testhelpers.AssertFileAbsent(t, dest)
}

func TestTarArchiver_SourceIsFile(t *testing.T) {
	dir := t.TempDir()
	src := testhelpers.TempFileOfSize(t, dir, "plain", 3)

	_, err := NewTarArchiver(Options{}).Archive(testhelpers.TestContext(), src, filepath.Join(dir, "out.tar"))
	require.Equal(t, utils.ErrCodeArchiveFailed, utils.ErrorCode(err))
}

func TestXZCompressor_Compress(t *testing.T) {
	dir := t.TempDir()
	input := testhelpers.TempFileOfSize(t, dir, "data.tar", 23)
	rec := &testhelpers.ProgressRecorder{}
	c := NewXZCompressor(testOptions(rec))
	c.readSize = 5

	out, err := c.Compress(testhelpers.TestContext(), input)
	require.NoError(t, err)
	require.Equal(t, input+".xz", out)
	testhelpers.AssertFileAbsent(t, input)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	r, err := xz.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.True(t, bytes.Equal(testhelpers.PatternBytes(23), data))

	events := rec.Events()
	require.Len(t, events, 5)
	require.EqualValues(t, 23, events[4].Processed)
	require.EqualValues(t, 23, events[4].Total)
	require.Equal(t, 5*time.Second, events[4].Elapsed)
}

func TestXZCompressor_MissingInput(t *testing.T) {
	input := filepath.Join(t.TempDir(), "missing.tar")

	_, err := NewXZCompressor(Options{}).Compress(testhelpers.TestContext(), input)
	require.Equal(t, utils.ErrCodeCompressFailed, utils.ErrorCode(err))
	testhelpers.AssertFileAbsent(t, input+".xz")
}

func TestPGPEncryptor_Symmetric(t *testing.T) {
	dir := t.TempDir()
	input := testhelpers.TempFileOfSize(t, dir, "data.tar.xz", 1000)

	enc, err := NewSymmetricEncryptor("correct horse", Options{})
	require.NoError(t, err)
	require.True(t, enc.Symmetric())

	out, err := enc.Encrypt(testhelpers.TestContext(), input)
	require.NoError(t, err)
	require.Equal(t, input+".gpg", out)
	testhelpers.AssertFileAbsent(t, input)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	prompt := func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		return []byte("correct horse"), nil
	}
	md, err := openpgp.ReadMessage(f, nil, prompt, nil)
	require.NoError(t, err)
	require.True(t, md.IsSymmetricallyEncrypted)
	data, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	require.True(t, bytes.Equal(testhelpers.PatternBytes(1000), data))
	require.Equal(t, "data.tar.xz", md.LiteralData.FileName)
}

func TestPGPEncryptor_EmptyPassphrase(t *testing.T) {
	_, err := NewSymmetricEncryptor("", Options{})
	require.Equal(t, utils.ErrCodeEncryptFailed, utils.ErrorCode(err))
}

func writePublicKey(t *testing.T, dir string) (*openpgp.Entity, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("Backup Test", "", "backup@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	keyFile := filepath.Join(dir, "recipient.asc")
	require.NoError(t, os.WriteFile(keyFile, buf.Bytes(), 0600))
	return entity, keyFile
}

func TestPGPEncryptor_Asymmetric(t *testing.T) {
	dir := t.TempDir()
	entity, keyFile := writePublicKey(t, dir)
	input := testhelpers.TempFileOfSize(t, dir, "data.tar.xz", 4096)

	enc, err := NewAsymmetricEncryptor(keyFile, "backup@example.com", Options{})
	require.NoError(t, err)
	require.False(t, enc.Symmetric())

	out, err := enc.Encrypt(testhelpers.TestContext(), input)
	require.NoError(t, err)
	testhelpers.AssertFileAbsent(t, input)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	md, err := openpgp.ReadMessage(f, openpgp.EntityList{entity}, nil, nil)
	require.NoError(t, err)
	require.True(t, md.IsEncrypted)
	data, err := io.ReadAll(md.UnverifiedBody)
	require.NoError(t, err)
	require.True(t, bytes.Equal(testhelpers.PatternBytes(4096), data))
}

func TestPGPEncryptor_RecipientFilter(t *testing.T) {
	dir := t.TempDir()
	entity, keyFile := writePublicKey(t, dir)

	_, err := NewAsymmetricEncryptor(keyFile, "someone-else@example.com", Options{})
	require.ErrorIs(t, err, ErrNoRecipient)

	enc, err := NewAsymmetricEncryptor(keyFile, entity.PrimaryKey.KeyIdShortString(), Options{})
	require.NoError(t, err)
	require.Len(t, enc.recipients, 1)

	enc, err = NewAsymmetricEncryptor(keyFile, "", Options{})
	require.NoError(t, err)
	require.Len(t, enc.recipients, 1)
}

func TestPGPEncryptor_BadKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "garbage.asc")
	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0600))

	_, err := NewAsymmetricEncryptor(keyFile, "", Options{})
	require.Equal(t, utils.ErrCodeEncryptFailed, utils.ErrorCode(err))

	_, err = NewAsymmetricEncryptor(filepath.Join(dir, "missing.asc"), "", Options{})
	require.Equal(t, utils.ErrCodeEncryptFailed, utils.ErrorCode(err))
}

func TestPGPEncryptor_MissingInputKeepsNoOutput(t *testing.T) {
	enc, err := NewSymmetricEncryptor("pw", Options{})
	require.NoError(t, err)
	input := filepath.Join(t.TempDir(), "missing.xz")

	_, err = enc.Encrypt(testhelpers.TestContext(), input)
	require.Equal(t, utils.ErrCodeEncryptFailed, utils.ErrorCode(err))
	testhelpers.AssertFileAbsent(t, input+".gpg")
}
