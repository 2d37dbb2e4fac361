package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"

	"github.com/johnemcbride/infra-cdk/internal/sshutil"
)

// SFTPStore fetches artifacts from a remote host over SFTP. Used when the
// artifact store is a plain file server behind a bastion rather than an
// object store.
type SFTPStore struct {
	Addr       string
	User       string
	Signer     xssh.Signer
	KnownHosts xssh.HostKeyCallback
	BaseDir    string
	Timeout    time.Duration
}

func (s *SFTPStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cli, err := sshutil.Dial(ctx, &sshutil.Client{
		Addr:       s.Addr,
		User:       s.User,
		Signer:     s.Signer,
		KnownHosts: s.KnownHosts,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, s.Addr, err)
	}
	defer cli.Close()

	sf, err := sftp.NewClient(cli)
	if err != nil {
		return nil, fmt.Errorf("%w: sftp client: %v", ErrUnavailable, err)
	}
	defer sf.Close()

	remote := path.Join(s.BaseDir, key)
	f, err := sf.Open(remote)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, remote, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, remote, err)
	}
	return data, nil
}
