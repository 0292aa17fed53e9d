package gateway

import (
	"encoding/base64"

	"github.com/nexsess/gateway/internal/terminal"
)

// StartUpload implements upload:start (§4.5.5): opens (and immediately
// closes) a write stream at remotePath to fail fast on a non-writable
// target, then registers an ActiveUpload keyed by uploadId. A zero-length
// upload is registered exactly like any other and is not completed here: it
// completes when the client sends one upload:chunk with empty data, which
// HandleUploadChunk sees as bytesWritten (0) reaching totalSize (0).
func StartUpload(registry *Registry, sessionID string, sftp *terminal.SFTPClient, uploadID, remotePath, relativePath string, totalSize int64) error {
	if sftp == nil {
		return New(KindPrecondition, "sftp not open")
	}
	probe, err := sftp.OpenWriteStream(remotePath)
	if err != nil {
		return Wrap(KindIO, "upload:start", err)
	}
	if err := probe.Close(); err != nil {
		return Wrap(KindIO, "upload:start", err)
	}

	stream, err := sftp.OpenWriteStream(remotePath)
	if err != nil {
		return Wrap(KindIO, "upload:start", err)
	}

	upload := &ActiveUpload{
		UploadID:     uploadID,
		SessionID:    sessionID,
		RemotePath:   remotePath,
		RelativePath: relativePath,
		TotalSize:    totalSize,
		stream:       stream,
	}
	registry.InsertUpload(upload)
	return nil
}

// UploadChunkResult is the upload:chunk acknowledgement payload. Entry is
// populated only once Complete is true, mirroring §4.5.1's "mutating op
// embeds a fresh lstat entry, nil on lstat failure" rule for upload:success.
type UploadChunkResult struct {
	UploadID     string `json:"uploadId"`
	BytesWritten int64  `json:"bytesWritten"`
	TotalSize    int64  `json:"totalSize"`
	Complete     bool   `json:"complete"`
	Entry        any    `json:"entry,omitempty"`
}

// HandleUploadChunk implements upload:chunk (§4.5.5): base64-decode the
// chunk, append it to the upload's write stream, and report whether the
// upload has now reached totalSize. Writes for the same uploadId must be
// serialized by the caller (the router's per-connection dispatch loop) —
// this function itself does not reorder or buffer out-of-order chunks.
func HandleUploadChunk(registry *Registry, sessionID, uploadID, chunkB64 string, sftp *terminal.SFTPClient) (UploadChunkResult, error) {
	upload, ok := registry.GetUpload(uploadID, sessionID)
	if !ok {
		return UploadChunkResult{}, New(KindPrecondition, "unknown upload")
	}

	data, err := base64.StdEncoding.DecodeString(chunkB64)
	if err != nil {
		return UploadChunkResult{}, Wrap(KindProtocol, "upload:chunk decode", err)
	}

	upload.mu.Lock()
	defer upload.mu.Unlock()
	if upload.done {
		return UploadChunkResult{}, New(KindPrecondition, "upload already finished")
	}

	if len(data) > 0 {
		if _, err := upload.stream.Write(data); err != nil {
			_ = upload.stream.Close()
			upload.done = true
			registry.RemoveUpload(uploadID)
			return UploadChunkResult{}, Wrap(KindIO, "upload:chunk write", err)
		}
		upload.bytesWritten += int64(len(data))
	}

	complete := upload.bytesWritten >= upload.TotalSize
	result := UploadChunkResult{
		UploadID:     uploadID,
		BytesWritten: upload.bytesWritten,
		TotalSize:    upload.TotalSize,
		Complete:     complete,
	}
	if complete {
		upload.done = true
		_ = upload.stream.Close()
		registry.RemoveUpload(uploadID)
		if sftp != nil {
			result.Entry = statEntryOrNil(sftp, upload.RemotePath)
		}
	}
	return result, nil
}

// CancelUpload implements upload:cancel: close the partial stream, best-
// effort unlink the partial file, and drop the bookkeeping entry.
func CancelUpload(registry *Registry, sessionID, uploadID string, sftp *terminal.SFTPClient) error {
	upload, ok := registry.GetUpload(uploadID, sessionID)
	if !ok {
		return New(KindPrecondition, "unknown upload")
	}

	upload.mu.Lock()
	if !upload.done {
		_ = upload.stream.Close()
		upload.done = true
	}
	upload.mu.Unlock()
	registry.RemoveUpload(uploadID)

	if sftp != nil {
		_ = sftp.Delete(upload.RemotePath)
	}
	return nil
}
