package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/ccl/workqueue/pkg/wire"
)

// unixRetries bounds the stat-retry loop that accommodates NFS attribute
// caching: a freshly created file may not be immediately visible to a
// concurrent stat from another client.
const unixRetries = 5

const unixRetryDelay = 100 * time.Millisecond

// UnixMethod proves the client's local UID by having it create a
// server-chosen, unpredictable pathname under a directory shared between
// manager and worker (typically an NFS or other network filesystem mount).
// The server stats the resulting file's owner and maps that UID to a
// username via the local passwd database.
func UnixMethod(sharedDir string) Method {
	return Method{
		Name: "unix",
		Assert: func(link *wire.Link, deadline time.Time) error {
			challenge, err := link.ReadLine(deadline)
			if err != nil {
				return fmt.Errorf("auth: unix: read challenge: %w", err)
			}
			path := filepath.Join(sharedDir, challenge)
			f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
			if err != nil {
				return fmt.Errorf("auth: unix: create challenge file: %w", err)
			}
			f.Close()
			return nil
		},
		Accept: func(link *wire.Link, deadline time.Time) (string, error) {
			challenge, err := randomChallenge()
			if err != nil {
				return "", fmt.Errorf("auth: unix: generate challenge: %w", err)
			}
			path := filepath.Join(sharedDir, challenge)
			defer os.Remove(path)

			if err := link.Printf(deadline, "%s", challenge); err != nil {
				return "", fmt.Errorf("auth: unix: send challenge: %w", err)
			}

			var info os.FileInfo
			for attempt := 0; attempt < unixRetries; attempt++ {
				info, err = os.Stat(path)
				if err == nil {
					break
				}
				time.Sleep(unixRetryDelay)
			}
			if err != nil {
				return "", fmt.Errorf("auth: unix: stat challenge file after %d attempts: %w", unixRetries, err)
			}

			stat, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return "", fmt.Errorf("auth: unix: cannot determine file owner")
			}
			u, err := user.LookupId(strconv.FormatUint(uint64(stat.Uid), 10))
			if err != nil {
				return "", fmt.Errorf("auth: unix: lookup uid %d: %w", stat.Uid, err)
			}
			return u.Username, nil
		},
	}
}

func randomChallenge() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "wq-auth-" + hex.EncodeToString(buf), nil
}
