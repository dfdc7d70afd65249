package sshsession

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"github.com/unicesi/amelia-sub000/internal/ctxlog"
	"github.com/unicesi/amelia-sub000/internal/session"
	"golang.org/x/crypto/ssh"
)

// Transfer uploads files over SFTP.
type Transfer struct {
	client *ssh.Client
	sftp   *sftp.Client
}

var _ session.Transfer = (*Transfer)(nil)

func newTransfer(client *ssh.Client) (*Transfer, error) {
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, err
	}
	return &Transfer{client: client, sftp: sc}, nil
}

// Upload implements session.Transfer.
func (t *Transfer) Upload(ctx context.Context, local, remote string, overwrite bool) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("cannot upload %s: %w", local, err)
	}
	if !info.IsDir() {
		return t.uploadFile(ctx, local, remote, info.Mode(), overwrite)
	}

	return filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		dst := path.Join(remote, filepath.ToSlash(rel))
		if d.IsDir() {
			if err := t.sftp.MkdirAll(dst); err != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", dst, err)
			}
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return t.uploadFile(ctx, p, dst, fi.Mode(), overwrite)
	})
}

func (t *Transfer) uploadFile(ctx context.Context, local, remote string, mode fs.FileMode, overwrite bool) error {
	logger := ctxlog.FromContext(ctx).With("local", local, "remote", remote)
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := path.Dir(remote); dir != "." && dir != "/" {
		if err := t.sftp.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}
	if !overwrite {
		if _, err := t.sftp.Stat(remote); err == nil {
			logger.Debug("Remote file exists, skipping upload.")
			return nil
		}
	}

	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := t.sftp.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remote, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write remote file %s: %w", remote, err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if err := t.sftp.Chmod(remote, mode.Perm()); err != nil {
		logger.Warn("Could not set remote file mode.", "error", err)
	}
	logger.Debug("File uploaded.")
	return nil
}

// Close ends the SFTP subsystem and the underlying connection.
func (t *Transfer) Close() error {
	return errors.Join(t.sftp.Close(), t.client.Close())
}
