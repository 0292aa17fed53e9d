package gateway

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/nexsess/gateway/internal/terminal"
)

// EntryAttrs is the §4.5.1 wire shape for one file's metadata. Times are
// milliseconds (native seconds * 1000).
type EntryAttrs struct {
	Size            int64 `json:"size"`
	Uid             int   `json:"uid"`
	Gid             int   `json:"gid"`
	Mode            uint32 `json:"mode"`
	AtimeMs         int64 `json:"atime"`
	MtimeMs         int64 `json:"mtime"`
	IsDirectory     bool  `json:"isDirectory"`
	IsFile          bool  `json:"isFile"`
	IsSymbolicLink  bool  `json:"isSymbolicLink"`
}

// Entry is the §4.5.1 wire shape for one directory/stat result.
type Entry struct {
	Filename string     `json:"filename"`
	Longname string      `json:"longname"`
	Attrs    EntryAttrs `json:"attrs"`
}

func buildEntry(name string, info os.FileInfo) Entry {
	mode := info.Mode()
	isSymlink := mode&os.ModeSymlink != 0
	uid, gid, atimeMs := terminal.StatOwnerAndAtime(info)
	return Entry{
		Filename: name,
		Longname: fmt.Sprintf("%s %12d %s", mode.String(), info.Size(), name),
		Attrs: EntryAttrs{
			Size:           info.Size(),
			Uid:            uid,
			Gid:            gid,
			Mode:           uint32(mode.Perm()),
			AtimeMs:        atimeMs,
			MtimeMs:        info.ModTime().UnixMilli(),
			IsDirectory:    info.IsDir(),
			IsFile:         mode.IsRegular(),
			IsSymbolicLink: isSymlink,
		},
	}
}

// statEntryOrNil lstats path for the fresh-entry embed required after a
// mutating op; per §4.5.1, a failed lstat still reports overall success,
// just with a nil payload.
func statEntryOrNil(c *terminal.SFTPClient, fullPath string) any {
	info, err := c.Lstat(fullPath)
	if err != nil {
		return nil
	}
	return buildEntry(path.Base(fullPath), info)
}

// ReadDir implements sftp:readdir (§4.5.1).
func ReadDir(c *terminal.SFTPClient, dirPath string) ([]Entry, error) {
	infos, err := c.ReadDir(dirPath)
	if err != nil {
		return nil, Wrap(KindIO, "readdir", err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, buildEntry(info.Name(), info))
	}
	return entries, nil
}

// Stat implements sftp:stat — via lstat, symlinks are not followed (§4.5.1).
func Stat(c *terminal.SFTPClient, filePath string) (Entry, error) {
	info, err := c.Lstat(filePath)
	if err != nil {
		return Entry{}, Wrap(KindIO, "stat", err)
	}
	return buildEntry(path.Base(filePath), info), nil
}

// Realpath implements sftp:realpath.
func Realpath(c *terminal.SFTPClient, p string) (string, error) {
	resolved, err := c.RealPath(p)
	if err != nil {
		return "", Wrap(KindIO, "realpath", err)
	}
	return resolved, nil
}

// Mkdir implements sftp:mkdir, replying with the fresh entry per §4.5.1.
func Mkdir(c *terminal.SFTPClient, dirPath string) (any, error) {
	if err := c.Mkdir(dirPath); err != nil {
		return nil, Wrap(KindIO, "mkdir", err)
	}
	return statEntryOrNil(c, dirPath), nil
}

// Unlink implements sftp:unlink.
func Unlink(c *terminal.SFTPClient, filePath string) error {
	if err := c.Delete(filePath); err != nil {
		return Wrap(KindIO, "unlink", err)
	}
	return nil
}

// Rmdir implements rmdir: force-recursive, via a remote `rm -rf` rather than
// the SFTP protocol's empty-directory-only rmdir (§4.5.1). Double-quotes in
// dirPath are escaped before quoting.
func Rmdir(ctx context.Context, transport *cryptossh.Client, dirPath string) error {
	quoted := strings.ReplaceAll(dirPath, `"`, `\"`)
	res, err := Exec(ctx, transport, fmt.Sprintf(`rm -rf "%s"`, quoted))
	if err != nil {
		return Wrap(KindRemoteCommand, "rmdir", err)
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ExitCode)
		}
		return New(KindRemoteCommand, msg)
	}
	return nil
}

// Rename implements sftp:rename, replying with the fresh entry.
func Rename(c *terminal.SFTPClient, oldPath, newPath string) (any, error) {
	if err := c.Rename(oldPath, newPath); err != nil {
		return nil, Wrap(KindIO, "rename", err)
	}
	return statEntryOrNil(c, newPath), nil
}

// Chmod implements sftp:chmod, replying with the fresh entry.
func Chmod(c *terminal.SFTPClient, filePath string, mode int) (any, error) {
	if err := c.Chmod(filePath, os.FileMode(mode)); err != nil {
		return nil, Wrap(KindIO, "chmod", err)
	}
	return statEntryOrNil(c, filePath), nil
}

// ReadFile implements sftp:readfile with the §4.5.2 encoding-detection
// decode precedence.
func ReadFile(c *terminal.SFTPClient, filePath string, maxBytes int64) (string, error) {
	content, err := c.ReadFileDecoded(filePath, maxBytes)
	if err != nil {
		return "", Wrap(KindIO, "readfile", err)
	}
	return content, nil
}

// WriteFile implements sftp:writefile (§4.5.3): write UTF-8 bytes, close,
// lstat, reply with the refreshed entry.
func WriteFile(c *terminal.SFTPClient, filePath, content string) (any, error) {
	if err := c.WriteFile(filePath, content); err != nil {
		return nil, Wrap(KindIO, "writefile", err)
	}
	return statEntryOrNil(c, filePath), nil
}

// CopyMoveResult is the per-destination outcome of a copy/move batch.
type CopyMoveResult struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Entry       any    `json:"entry"`
}

// CopyOrMove implements §4.5.4: for each source, compute
// destinationDir/basename(source), skip when source==destination, and
// either recursively copy or (after checking the target is absent) rename.
// Processing stops at the first failure; the accumulated results from
// earlier sources are discarded per "reply with the one accumulated error".
func CopyOrMove(c *terminal.SFTPClient, sources []string, destinationDir string, move bool) ([]CopyMoveResult, error) {
	if err := c.MkdirAll(destinationDir); err != nil {
		return nil, Wrap(KindIO, "ensure destination dir", err)
	}

	results := make([]CopyMoveResult, 0, len(sources))
	for _, src := range sources {
		dst := path.Join(destinationDir, path.Base(strings.TrimRight(src, "/")))
		if normalizeSlashes(src) == normalizeSlashes(dst) {
			continue
		}

		if move {
			if _, err := c.Lstat(dst); err == nil {
				return nil, New(KindIO, "target already exists")
			}
			if err := c.Rename(src, dst); err != nil {
				return nil, Wrap(KindIO, "move", err)
			}
		} else {
			if _, err := c.Copy(src, dst, nil); err != nil {
				return nil, Wrap(KindIO, "copy", err)
			}
		}

		results = append(results, CopyMoveResult{
			Source:      normalizeSlashes(src),
			Destination: normalizeSlashes(dst),
			Entry:       statEntryOrNil(c, dst),
		})
	}
	return results, nil
}

func normalizeSlashes(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
