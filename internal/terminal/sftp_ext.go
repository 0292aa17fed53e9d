package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// NewSFTPClientOverConn opens an SFTP subsystem on an already-established SSH
// connection. It does not own sshClient — Close only
// tears down the SFTP subsystem, leaving the shared transport alive for the
// session's shell and remote-exec work.
func NewSFTPClientOverConn(sshClient *cryptossh.Client) (*SFTPClient, error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, fmt.Errorf("sftp: open subsystem: %w", err)
	}
	return &SFTPClient{sshClient: sshClient, sftpClient: sftpClient}, nil
}

// Lstat returns metadata for path without following a trailing symlink.
func (c *SFTPClient) Lstat(path string) (os.FileInfo, error) {
	info, err := c.sftpClient.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("sftp: lstat %q: %w", path, err)
	}
	return info, nil
}

// RealPath resolves path to its canonical absolute form.
func (c *SFTPClient) RealPath(path string) (string, error) {
	p, err := c.sftpClient.RealPath(path)
	if err != nil {
		return "", fmt.Errorf("sftp: realpath %q: %w", path, err)
	}
	return p, nil
}

// MkdirAll creates path and any missing parents, per the mkdir-p semantics of
// §4.5.6: a native recursive mkdir first, falling back to an iterative
// parent walk when the server doesn't support it. "Already exists as
// directory" is success; "already exists as non-directory" is a hard error.
func (c *SFTPClient) MkdirAll(dirPath string) error {
	if dirPath == "" || dirPath == "/" || dirPath == "." {
		return nil
	}
	if err := c.sftpClient.MkdirAll(dirPath); err == nil {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(dirPath, "/"), "/")
	cur := ""
	if strings.HasPrefix(dirPath, "/") {
		cur = "/"
	}
	for _, p := range parts {
		if p == "" {
			continue
		}
		if cur == "" || cur == "/" {
			cur = cur + p
		} else {
			cur = cur + "/" + p
		}
		info, statErr := c.sftpClient.Lstat(cur)
		if statErr == nil {
			if info.IsDir() {
				continue
			}
			return fmt.Errorf("sftp: mkdir -p %q: %q exists and is not a directory", dirPath, cur)
		}
		if err := c.sftpClient.Mkdir(cur); err != nil {
			// A concurrent creator or a final native MkdirAll retry may have
			// already produced the directory; re-check before failing.
			if info2, statErr2 := c.sftpClient.Lstat(cur); statErr2 == nil && info2.IsDir() {
				continue
			}
			return fmt.Errorf("sftp: mkdir -p %q: create %q: %w", dirPath, cur, err)
		}
	}
	return nil
}

// ReadDir lists the raw directory entries of dirPath, re-lstatting each
// child so symlinks report their own mode rather than sftp.Client.ReadDir's
// readdir-only attributes.
func (c *SFTPClient) ReadDir(dirPath string) ([]os.FileInfo, error) {
	infos, err := c.sftpClient.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("sftp: readdir %q: %w", dirPath, err)
	}
	out := make([]os.FileInfo, len(infos))
	for i, fi := range infos {
		full := dirPath
		if full == "" || full[len(full)-1] != '/' {
			full += "/"
		}
		full += fi.Name()
		if lfi, lerr := c.sftpClient.Lstat(full); lerr == nil {
			out[i] = lfi
			continue
		}
		out[i] = fi
	}
	return out, nil
}

// StatOwnerAndAtime extracts (uid, gid, atimeMs) from an os.FileInfo
// produced by this package, falling back to mtime when the server's SFTP
// version didn't report an access time.
func StatOwnerAndAtime(info os.FileInfo) (uid, gid int, atimeMs int64) {
	if sys, ok := info.Sys().(*sftp.FileStat); ok {
		uid = int(sys.UID)
		gid = int(sys.GID)
		if sys.Atime > 0 {
			atimeMs = int64(sys.Atime) * 1000
		}
	}
	if atimeMs == 0 {
		atimeMs = info.ModTime().UnixMilli()
	}
	return
}

// Rmdir force-recursively removes path via a remote shell command, per
// §4.5.1: `rm -rf "<quoted path>"`. Exit code 0 is success; any non-zero
// exit or stderr is an error whose message is the trimmed stderr, or
// "exit code N" when stderr is empty.
func (c *SFTPClient) Rmdir(path string) error {
	quoted := strings.ReplaceAll(path, `"`, `\"`)
	cmd := fmt.Sprintf(`rm -rf "%s"`, quoted)
	out, err := c.runRemoteCommand(cmd)
	if err == nil && out == "" {
		return nil
	}
	msg := out
	if msg == "" {
		var exitErr *cryptossh.ExitError
		if errors.As(err, &exitErr) {
			msg = fmt.Sprintf("exit code %d", exitErr.ExitStatus())
		} else {
			msg = err.Error()
		}
	}
	return fmt.Errorf("sftp: rmdir %q: %s", path, msg)
}

// ReadFileDecoded reads up to maxBytes of remotePath and decodes it to a
// UTF-8 string per the §4.5.2 encoding-detection precedence, rather than
// assuming the bytes are already valid UTF-8.
func (c *SFTPClient) ReadFileDecoded(path string, maxBytes int64) (string, error) {
	f, err := c.sftpClient.Open(path)
	if err != nil {
		return "", fmt.Errorf("sftp: open %q: %w", path, err)
	}
	defer f.Close()

	limited := io.LimitReader(f, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("sftp: read %q: %w", path, err)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("sftp: file %q exceeds %d bytes limit", path, maxBytes)
	}
	return DecodeFileContent(data)
}

// writeStream is a handle returned by OpenWriteStream; Write and Close are
// safe to call from the chunked-upload engine's single serializer goroutine.
type writeStream struct {
	f *sftp.File
}

func (w *writeStream) Write(p []byte) (int, error) { return w.f.Write(p) }
func (w *writeStream) Close() error                 { return w.f.Close() }

// OpenWriteStream truncate-opens remotePath for writing and returns a stream
// the caller drives chunk by chunk. Used both for the chunked-upload engine's
// writability pre-check (open then immediately close) and for the subsequent
// real write stream.
func (c *SFTPClient) OpenWriteStream(remotePath string) (io.WriteCloser, error) {
	f, err := c.sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("sftp: open %q for write: %w", remotePath, err)
	}
	return &writeStream{f: f}, nil
}
